package idempotency

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultHeader carries the transport event id.
	DefaultHeader    = "X-Event-ID"
	replayHeaderName = "X-Idempotent-Replay"
)

// KeyFunc extracts the deduplication key from a request and its buffered body.
type KeyFunc func(r *http.Request, body []byte) string

type middlewareConfig struct {
	keyFunc KeyFunc
	ttl     time.Duration
	clock   func() time.Time
	logger  *zap.Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader reads the key from the named header.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		name = strings.TrimSpace(name)
		if name != "" {
			cfg.keyFunc = headerKey(name)
		}
	}
}

// WithKeyFunc reads the key with fn, typically from the decoded body.
func WithKeyFunc(fn KeyFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if fn != nil {
			cfg.keyFunc = fn
		}
	}
}

// WithTTL configures how long completed records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// JSONFieldKey returns a KeyFunc reading a top-level string field from a JSON body, falling back to DefaultHeader.
func JSONFieldKey(field string) KeyFunc {
	fromHeader := headerKey(DefaultHeader)
	return func(r *http.Request, body []byte) string {
		if key := fromHeader(r, body); key != "" {
			return key
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return ""
		}
		var value string
		if err := json.Unmarshal(fields[field], &value); err != nil {
			return ""
		}
		return strings.TrimSpace(value)
	}
}

// Middleware processes each event key once. Redeliveries of a completed event replay the stored
// response; concurrent redeliveries receive 409 so the platform retries later.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		keyFunc: headerKey(DefaultHeader),
		ttl:     DefaultTTL,
		clock:   time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			body, err := readAndReplayBody(r)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
				return
			}

			key := cfg.keyFunc(r, body)
			if key == "" {
				respondError(w, http.StatusBadRequest, "event_id_required", "missing event id")
				return
			}

			fingerprint := requestFingerprint(r, body)
			now := cfg.clock().UTC()

			reservation, err := store.Reserve(r.Context(), key, fingerprint, now, cfg.ttl)
			if err != nil {
				handleStoreError(w, cfg.logger, key, err)
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				respondError(w, http.StatusConflict, "event_in_progress", "event is already being processed")
				return
			}

			recorder := newResponseRecorder(w)
			next.ServeHTTP(recorder, r)

			if recorder.Status() >= http.StatusInternalServerError {
				// Let the platform redeliver failed events.
				if err := store.Release(r.Context(), key, fingerprint); err != nil {
					cfg.logger.Warn("idempotency release failed", zap.String("event_id", key), zap.Error(err))
				}
			} else {
				response := Response{
					Status:  recorder.Status(),
					Headers: recorder.header.Clone(),
					Body:    recorder.Body(),
				}
				if err := store.SaveResponse(r.Context(), key, fingerprint, response, cfg.clock().UTC(), cfg.ttl); err != nil {
					cfg.logger.Warn("idempotency save failed", zap.String("event_id", key), zap.Error(err))
					if err := store.Release(r.Context(), key, fingerprint); err != nil {
						cfg.logger.Warn("idempotency release failed", zap.String("event_id", key), zap.Error(err))
					}
				}
			}

			if err := recorder.Commit(); err != nil {
				cfg.logger.Debug("idempotency flush failed", zap.String("event_id", key), zap.Error(err))
			}
		})
	}
}

func headerKey(name string) KeyFunc {
	return func(r *http.Request, _ []byte) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte) string {
	var builder strings.Builder
	builder.WriteString(r.URL.Path)
	builder.WriteString("|")
	builder.WriteString(r.Header.Get("Content-Type"))
	builder.WriteString("|")
	builder.WriteString(sha256Hex(body))
	return sha256Hex([]byte(builder.String()))
}

func handleStoreError(w http.ResponseWriter, logger *zap.Logger, key string, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		respondError(w, http.StatusConflict, "event_id_conflict", "event id already used for a different payload")
		return
	}
	logger.Warn("idempotency store error", zap.String("event_id", key), zap.Error(err))
	respondError(w, http.StatusServiceUnavailable, "idempotency_unavailable", "unable to process event id")
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	for key, values := range headersFromRecord(record.ResponseHeaders) {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
	})
}

type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{
		parent: parent,
		header: make(http.Header),
	}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(status int) {
	if status <= 0 {
		status = http.StatusOK
	}
	r.status = status
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Body() []byte {
	if r.body.Len() == 0 {
		return nil
	}
	return r.body.Bytes()
}

func (r *responseRecorder) Commit() error {
	dst := r.parent.Header()
	for key, values := range r.header {
		dst[key] = append([]string(nil), values...)
	}
	r.parent.WriteHeader(r.Status())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}

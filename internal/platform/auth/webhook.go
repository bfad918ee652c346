package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute
)

// NonceStore tracks unique nonces for replay prevention.
type NonceStore interface {
	// UseNonce records the nonce if it has not been seen before. The boolean reports whether the
	// nonce was stored (true) or already existed (false).
	UseNonce(ctx context.Context, nonce string, expiry time.Time) (bool, error)
}

// VerificationRecorder counts verification outcomes by reason.
type VerificationRecorder interface {
	ObserveVerification(reason string, success bool)
}

// InMemoryNonceStore offers an in-process nonce registry.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{nonces: make(map[string]time.Time), now: time.Now}
}

// UseNonce records the nonce until expiry, rejecting replays until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, nonce string, expiry time.Time) (bool, error) {
	if nonce == "" {
		return false, errors.New("auth: nonce is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.nonces {
		if exp.Before(now) {
			delete(s.nonces, k)
		}
	}
	if expiry.Before(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}
	if existing, ok := s.nonces[nonce]; ok && existing.After(now) {
		return false, nil
	}
	s.nonces[nonce] = expiry
	return true, nil
}

// RedisNonceStore shares the nonce registry between replicas.
type RedisNonceStore struct {
	client goredis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisNonceStore stores nonces under prefix.
func NewRedisNonceStore(client goredis.Cmdable, prefix string) *RedisNonceStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "sushi-bot"
	}
	return &RedisNonceStore{client: client, prefix: prefix + ":nonce:", now: time.Now}
}

// UseNonce claims the nonce with SET NX until expiry.
func (s *RedisNonceStore) UseNonce(ctx context.Context, nonce string, expiry time.Time) (bool, error) {
	if nonce == "" {
		return false, errors.New("auth: nonce is required")
	}
	ttl := expiry.Sub(s.now())
	if ttl <= 0 {
		return false, errors.New("auth: nonce expiry is in the past")
	}
	stored, err := s.client.SetNX(ctx, s.prefix+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("auth: store nonce: %w", err)
	}
	return stored, nil
}

// WebhookVerifier checks that inbound chat events were signed by the transport adapter with the
// shared secret. The signature covers method, path, timestamp, nonce and the body hash.
type WebhookVerifier struct {
	secret  []byte
	nonces  NonceStore
	logger  *zap.Logger
	metrics VerificationRecorder
	now     func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string

	clockSkew time.Duration
	nonceTTL  time.Duration
}

// Option customises the verifier.
type Option func(*WebhookVerifier)

// NewWebhookVerifier builds a verifier. An empty secret disables verification, which is only
// meant for local runs.
func NewWebhookVerifier(secret string, nonces NonceStore, opts ...Option) *WebhookVerifier {
	v := &WebhookVerifier{
		secret:          []byte(secret),
		nonces:          nonces,
		logger:          zap.NewNop(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithLogger overrides the verifier logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *WebhookVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics VerificationRecorder) Option {
	return func(v *WebhookVerifier) {
		v.metrics = metrics
	}
}

// WithClock injects a custom clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(v *WebhookVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHeaders customises the header names.
func WithHeaders(signature, timestamp, nonce string) Option {
	return func(v *WebhookVerifier) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithClockSkew adjusts the accepted timestamp skew.
func WithClockSkew(d time.Duration) Option {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithNonceTTL customises the nonce retention duration.
func WithNonceTTL(d time.Duration) Option {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// Enabled reports whether requests are verified.
func (v *WebhookVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Middleware rejects requests without a valid, fresh, unreplayed signature.
func (v *WebhookVerifier) Middleware(next http.Handler) http.Handler {
	if !v.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
		if signatureValue == "" {
			v.reject(w, http.StatusUnauthorized, "signature_missing", "signature header missing")
			return
		}
		timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
		if timestampValue == "" {
			v.reject(w, http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing")
			return
		}
		timestamp, err := parseSignatureTimestamp(timestampValue)
		if err != nil {
			v.reject(w, http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid")
			return
		}
		if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
			v.reject(w, http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window")
			return
		}
		nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
		if nonce == "" {
			v.reject(w, http.StatusUnauthorized, "nonce_missing", "signature nonce missing")
			return
		}

		body, err := readAndRestoreBody(r)
		if err != nil {
			v.reject(w, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
			return
		}

		signature, err := decodeSignature(signatureValue)
		if err != nil {
			v.reject(w, http.StatusUnauthorized, "signature_invalid", "signature encoding invalid")
			return
		}
		expected := Sign(v.secret, r.Method, r.URL.EscapedPath(), timestampValue, nonce, body)
		if !hmac.Equal(signature, expected) {
			v.reject(w, http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
			return
		}

		if v.nonces == nil {
			v.reject(w, http.StatusServiceUnavailable, "verification_unavailable", "nonce store unavailable")
			return
		}
		expiry := timestamp.Add(v.nonceTTL)
		if expiry.Before(v.now()) {
			expiry = v.now().Add(v.nonceTTL)
		}
		stored, err := v.nonces.UseNonce(ctx, nonce, expiry)
		if err != nil {
			v.logger.Warn("webhook nonce store error", zap.Error(err))
			v.reject(w, http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error")
			return
		}
		if !stored {
			v.reject(w, http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce")
			return
		}

		v.record("ok", true)
		next.ServeHTTP(w, r)
	})
}

// Sign computes the HMAC-SHA256 over the canonical request string. Adapters use it to sign events.
func Sign(secret []byte, method, path, timestamp, nonce string, body []byte) []byte {
	if path == "" {
		path = "/"
	}
	hash := sha256.Sum256(body)
	canonical := strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(hash[:]),
	}, "\n")
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(canonical))
	return mac.Sum(nil)
}

func (v *WebhookVerifier) reject(w http.ResponseWriter, status int, code, message string) {
	v.record(code, false)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func (v *WebhookVerifier) record(reason string, success bool) {
	if v.metrics == nil {
		return
	}
	v.metrics.ObserveVerification(reason, success)
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64 encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

const testSecret = "kitchen-secret"

type recordingMetrics struct {
	mu      sync.Mutex
	reasons []string
}

func (m *recordingMetrics) ObserveVerification(reason string, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasons = append(m.reasons, reason)
}

func (m *recordingMetrics) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reasons) == 0 {
		return ""
	}
	return m.reasons[len(m.reasons)-1]
}

func signedRequest(body []byte, timestamp, nonce string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
	signature := Sign([]byte(testSecret), http.MethodPost, "/v1/events", timestamp, nonce, body)
	req.Header.Set(defaultSignatureHeader, hex.EncodeToString(signature))
	req.Header.Set(defaultTimestampHeader, timestamp)
	req.Header.Set(defaultNonceHeader, nonce)
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
}

func failHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be invoked")
	})
}

func TestWebhookVerifier_Success(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	metrics := &recordingMetrics{}
	verifier := NewWebhookVerifier(testSecret, NewInMemoryNonceStore(),
		WithClock(func() time.Time { return now }),
		WithMetrics(metrics),
	)

	body := []byte(`{"event_id":"1","kind":"help"}`)
	req := signedRequest(body, now.Format(time.RFC3339), "nonce-1")

	var seen []byte
	rr := httptest.NewRecorder()
	verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		seen = buf.Bytes()
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
	if !bytes.Equal(seen, body) {
		t.Fatalf("expected body restored for handler, got %q", seen)
	}
	if got := metrics.last(); got != "ok" {
		t.Fatalf("expected ok metric, got %q", got)
	}
}

func TestWebhookVerifier_AcceptsBase64AndUnixTimestamp(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	verifier := NewWebhookVerifier(testSecret, NewInMemoryNonceStore(), WithClock(func() time.Time { return now }))

	body := []byte(`{}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
	signature := Sign([]byte(testSecret), http.MethodPost, "/v1/events", ts, "n", body)
	req.Header.Set(defaultSignatureHeader, base64.StdEncoding.EncodeToString(signature))
	req.Header.Set(defaultTimestampHeader, ts)
	req.Header.Set(defaultNonceHeader, "n")

	rr := httptest.NewRecorder()
	verifier.Middleware(okHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected base64 signature to verify, got %d", rr.Code)
	}
}

func TestWebhookVerifier_ReplayRejected(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	verifier := NewWebhookVerifier(testSecret, NewInMemoryNonceStore(), WithClock(func() time.Time { return now }))
	handler := verifier.Middleware(okHandler())
	body := []byte(`{"kind":"confirm"}`)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, signedRequest(body, now.Format(time.RFC3339), "nonce-replay"))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected first request to succeed, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, signedRequest(body, now.Format(time.RFC3339), "nonce-replay"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected replay to be rejected with 401, got %d", rr.Code)
	}
}

func TestWebhookVerifier_Rejections(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	stamp := now.Format(time.RFC3339)
	body := []byte(`{"kind":"cart_add"}`)

	tampered := signedRequest(body, stamp, "n-1")
	tampered.Body = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"kind":"cart_clear"}`))).Body

	missingNonce := signedRequest(body, stamp, "n-2")
	missingNonce.Header.Del(defaultNonceHeader)

	badEncoding := signedRequest(body, stamp, "n-3")
	badEncoding.Header.Set(defaultSignatureHeader, "!!!")

	cases := []struct {
		name   string
		req    *http.Request
		status int
		reason string
	}{
		{"tampered body", tampered, http.StatusUnauthorized, "signature_mismatch"},
		{"stale timestamp", signedRequest(body, now.Add(-10*time.Minute).Format(time.RFC3339), "n-4"), http.StatusUnauthorized, "timestamp_skew"},
		{"future timestamp", signedRequest(body, now.Add(10*time.Minute).Format(time.RFC3339), "n-5"), http.StatusUnauthorized, "timestamp_skew"},
		{"unparseable timestamp", signedRequest(body, "yesterday", "n-6"), http.StatusUnauthorized, "timestamp_invalid"},
		{"missing nonce", missingNonce, http.StatusUnauthorized, "nonce_missing"},
		{"bad encoding", badEncoding, http.StatusUnauthorized, "signature_invalid"},
		{"unsigned", httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body)), http.StatusUnauthorized, "signature_missing"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &recordingMetrics{}
			verifier := NewWebhookVerifier(testSecret, NewInMemoryNonceStore(),
				WithClock(func() time.Time { return now }),
				WithMetrics(metrics),
			)
			rr := httptest.NewRecorder()
			verifier.Middleware(failHandler(t)).ServeHTTP(rr, tc.req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if got := metrics.last(); got != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, got)
			}
		})
	}
}

func TestWebhookVerifier_DisabledWithoutSecret(t *testing.T) {
	verifier := NewWebhookVerifier("", nil)
	if verifier.Enabled() {
		t.Fatalf("expected verifier disabled without secret")
	}
	rr := httptest.NewRecorder()
	verifier.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/events", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected passthrough, got %d", rr.Code)
	}
}

func TestWebhookVerifier_CustomHeaders(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	verifier := NewWebhookVerifier(testSecret, NewInMemoryNonceStore(),
		WithClock(func() time.Time { return now }),
		WithHeaders("X-Bot-Signature", "X-Bot-Timestamp", "X-Bot-Nonce"),
	)
	body := []byte(`{}`)
	stamp := now.Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
	req.Header.Set("X-Bot-Signature", hex.EncodeToString(Sign([]byte(testSecret), http.MethodPost, "/v1/events", stamp, "n", body)))
	req.Header.Set("X-Bot-Timestamp", stamp)
	req.Header.Set("X-Bot-Nonce", "n")

	rr := httptest.NewRecorder()
	verifier.Middleware(okHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected custom headers to verify, got %d", rr.Code)
	}
}

func TestRedisNonceStore(t *testing.T) {
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisNonceStore(client, "test")
	ctx := context.Background()
	expiry := time.Now().Add(time.Minute)

	stored, err := store.UseNonce(ctx, "abc", expiry)
	if err != nil || !stored {
		t.Fatalf("expected first use to store, stored=%v err=%v", stored, err)
	}
	stored, err = store.UseNonce(ctx, "abc", expiry)
	if err != nil || stored {
		t.Fatalf("expected replay to be refused, stored=%v err=%v", stored, err)
	}
	if ttl := srv.TTL("test:nonce:abc"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected nonce ttl within a minute, got %v", ttl)
	}

	srv.FastForward(2 * time.Minute)
	stored, err = store.UseNonce(ctx, "abc", time.Now().Add(time.Minute))
	if err != nil || !stored {
		t.Fatalf("expected expired nonce to be reusable, stored=%v err=%v", stored, err)
	}

	if _, err := store.UseNonce(ctx, "late", time.Now().Add(-time.Second)); err == nil {
		t.Fatalf("expected error for past expiry")
	}
}

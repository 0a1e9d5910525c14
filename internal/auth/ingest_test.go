package auth

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func signedIngestRequest(secret []byte, body string, ts time.Time) *http.Request {
	timestamp := fmt.Sprintf("%d", ts.Unix())
	req := httptest.NewRequest(http.MethodPost, "/ingest/telemetry", strings.NewReader(body))
	req.Header.Set("X-Ingest-Timestamp", timestamp)
	req.Header.Set("X-Ingest-Signature", computeIngestSignature(secret, timestamp, []byte(body)))
	return req
}

func TestIngestAuth_ValidSignature(t *testing.T) {
	secret := []byte("ingest-secret")
	mw := NewIngestAuthMiddleware(secret, 5*time.Minute)

	var seenBody string
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		seenBody = string(data)
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"entityId":"SHIP-0001"}`
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedIngestRequest(secret, body, time.Now()))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if seenBody != body {
		t.Fatalf("body not passed through: %q", seenBody)
	}
}

func TestIngestAuth_MissingHeaders(t *testing.T) {
	mw := NewIngestAuthMiddleware([]byte("ingest-secret"), 5*time.Minute)
	handler := mw.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/ingest/telemetry", strings.NewReader("{}"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestIngestAuth_BadSignature(t *testing.T) {
	mw := NewIngestAuthMiddleware([]byte("ingest-secret"), 5*time.Minute)
	handler := mw.Wrap(okHandler())

	req := signedIngestRequest([]byte("wrong-secret"), "{}", time.Now())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestIngestAuth_ExpiredTimestamp(t *testing.T) {
	secret := []byte("ingest-secret")
	mw := NewIngestAuthMiddleware(secret, 5*time.Minute)
	handler := mw.Wrap(okHandler())

	req := signedIngestRequest(secret, "{}", time.Now().Add(-time.Hour))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestIngestAuth_Unconfigured(t *testing.T) {
	mw := NewIngestAuthMiddleware(nil, 5*time.Minute)
	handler := mw.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/ingest/telemetry", strings.NewReader("{}"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

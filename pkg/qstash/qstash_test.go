package qstash

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, key string, body []byte, subject string, now time.Time) string {
	t.Helper()

	sum := sha256.Sum256(body)
	claims := signatureClaims{
		Body: base64.URLEncoding.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "Upstash",
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	c, err := NewClient(Config{
		URL:               baseURL,
		Token:             "qtok",
		CurrentSigningKey: "current",
		NextSigningKey:    "next",
		Retries:           2,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestVerifyAcceptsCurrentAndNextKeys(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "https://qstash.example")
	now := time.Now()
	body := []byte(`{"object":"whatsapp_business_account"}`)
	dest := "https://bot.example/internal/events"

	if err := c.Verify(sign(t, "current", body, dest, now), body, dest); err != nil {
		t.Fatalf("current key: %v", err)
	}
	if err := c.Verify(sign(t, "next", body, dest, now), body, dest); err != nil {
		t.Fatalf("next key: %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "https://qstash.example")
	now := time.Now()
	body := []byte(`{"a":1}`)
	dest := "https://bot.example/internal/events"

	tests := map[string]struct {
		sig  string
		body []byte
		dest string
	}{
		"missing":       {sig: "", body: body, dest: dest},
		"wrong key":     {sig: sign(t, "other", body, dest, now), body: body, dest: dest},
		"tampered body": {sig: sign(t, "current", body, dest, now), body: []byte(`{"a":2}`), dest: dest},
		"wrong subject": {sig: sign(t, "current", body, "https://evil.example", now), body: body, dest: dest},
		"expired":       {sig: sign(t, "current", body, dest, now.Add(-time.Hour)), body: body, dest: dest},
	}
	for name, tt := range tests {
		if err := c.Verify(tt.sig, tt.body, tt.dest); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("%s: expected ErrInvalidSignature, got %v", name, err)
		}
	}
}

func TestPublish(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/publish/https://bot.example/internal/events" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer qtok" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Upstash-Deduplication-Id") != "wamid.1" || r.Header.Get("Upstash-Retries") != "2" {
			t.Errorf("unexpected upstash headers: %v", r.Header)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"x":1}` {
			t.Errorf("unexpected body %q", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messageId":"msg_123"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	id, err := c.Publish(context.Background(), "https://bot.example/internal/events", []byte(`{"x":1}`), PublishOptions{DeduplicationID: "wamid.1"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id != "msg_123" {
		t.Fatalf("unexpected message id %q", id)
	}
}

func TestPublishError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Publish(context.Background(), "https://bot.example/x", nil, PublishOptions{}); !errors.Is(err, ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
	if _, err := c.Publish(context.Background(), "not a url", nil, PublishOptions{}); !errors.Is(err, ErrPublish) {
		t.Fatalf("expected ErrPublish for bad destination, got %v", err)
	}
}

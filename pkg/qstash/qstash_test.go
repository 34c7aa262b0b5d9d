package qstash

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPublishSendsHeadersAndBody(t *testing.T) {
	t.Parallel()

	var (
		gotPath  string
		gotAuth  string
		gotDedup string
		gotBody  map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotDedup = r.Header.Get("Upstash-Deduplication-Id")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"messageId":"msg_123"}`)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		URL:         server.URL,
		Token:       "tok",
		Destination: "https://hooks.example.org/dispatch",
		Retries:     2,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	client.WithHTTPClient(server.Client())

	id, err := client.Publish(context.Background(), map[string]any{"dispatch_id": "amb-1"}, PublishOptions{DeduplicationID: "amb-1"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id != "msg_123" {
		t.Fatalf("Publish() id = %q, want msg_123", id)
	}
	if gotPath != "/v2/publish/https://hooks.example.org/dispatch" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotDedup != "amb-1" {
		t.Fatalf("dedup header = %q", gotDedup)
	}
	if gotBody["dispatch_id"] != "amb-1" {
		t.Fatalf("body = %#v", gotBody)
	}
}

func TestPublishHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid token"}`)
	}))
	t.Cleanup(server.Close)

	client := MustNew(Config{URL: server.URL, Token: "bad", Destination: "https://hooks.example.org/x"}).
		WithHTTPClient(server.Client())

	if _, err := client.Publish(context.Background(), struct{}{}, PublishOptions{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestConfigEnabled(t *testing.T) {
	t.Parallel()

	if (Config{Token: "t"}).Enabled() {
		t.Fatal("Enabled() = true without destination")
	}
	if !(Config{Token: "t", Destination: "https://x.example"}).Enabled() {
		t.Fatal("Enabled() = false with token and destination")
	}
}

package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_ScoreMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/score" {
			t.Errorf("path=%q, want /v1/score", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization=%q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["message_id"] != "m_1" || body["language"] != "es" {
			t.Errorf("body=%v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"has_errors": true,
			"feedback":   map[string]any{"corrections": []string{"ser vs estar"}},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, srv.Client())
	res, err := c.ScoreMessage(context.Background(), "m_1", "es", "beginner", []ContextMessage{{Role: "user", Content: "hola"}})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !res.HasErrors {
		t.Fatalf("has_errors=false, want true")
	}
	if res.MessageID != "m_1" {
		t.Fatalf("message_id=%q, want m_1", res.MessageID)
	}
	if !strings.Contains(string(res.Feedback), "ser vs estar") {
		t.Fatalf("feedback=%s", res.Feedback)
	}
}

func TestClient_ErrorStatusSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("", srv.URL, srv.Client())
	err := c.UpdateKnowledge(context.Background(), "u_1", "es", []string{"c_1"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "status 503") || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("err=%v", err)
	}
}

func TestClient_Suggestions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"suggestions": []string{"¿Qué recomienda?", "La cuenta, por favor"}})
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, srv.Client())
	got, err := c.Suggestions(context.Background(), "es", "beginner", nil)
	if err != nil {
		t.Fatalf("suggestions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d, want 2", len(got))
	}
}

package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var p SessionParams
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Fatalf("decode params: %v", err)
		}
		if p.Amount != 10 || p.RideID != "r1" {
			t.Errorf("unexpected params %+v", p)
		}
		if p.SuccessURL != "https://app.example/booked" {
			t.Errorf("expected default success url, got %q", p.SuccessURL)
		}
		json.NewEncoder(w).Encode(Session{ID: "cs_1", URL: "https://pay.example/cs_1"})
	}))
	defer srv.Close()

	c := New(srv.URL, "sk_test", "https://app.example/booked", "https://app.example/cancelled")
	s, err := c.CreateSession(context.Background(), SessionParams{Amount: 10, RideID: "r1", PassengerID: "p1"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if s.ID != "cs_1" || s.URL != "https://pay.example/cs_1" {
		t.Errorf("unexpected session %+v", s)
	}
}

func TestCreateSession_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient funds", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := New(srv.URL, "sk_test", "", "")
	if _, err := c.CreateSession(context.Background(), SessionParams{Amount: 10}); err == nil {
		t.Fatalf("expected error on provider failure")
	}
}

func TestCreateSession_Unreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", "sk_test", "", "")
	_, err := c.CreateSession(context.Background(), SessionParams{Amount: 10})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

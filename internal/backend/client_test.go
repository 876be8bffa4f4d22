package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewToken_PostsIdentityAndReadsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/call-center/new-token" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("expected bearer api key, got %q", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["identity"] != "agent_42" {
			t.Errorf("expected identity agent_42, got %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", APIKey: "key"})
	tok, err := c.NewToken(context.Background(), "agent_42")
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if tok != "tok" {
		t.Fatalf("expected tok, got %q", tok)
	}
}

func TestNewToken_EmptyTokenIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":""}`))
	}))
	defer srv.Close()

	if _, err := New(Config{BaseURL: srv.URL}).NewToken(context.Background(), "a"); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
}

func TestChangeStatus_Body(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/change-status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := New(Config{BaseURL: srv.URL}).ChangeStatus(context.Background(), "in_call", "42"); err != nil {
		t.Fatalf("change status: %v", err)
	}
	if got["status"] != "in_call" || got["agent_id"] != "42" {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestAddCustomerToConference_StatusError(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		http.Error(w, "conference not found", http.StatusNotFound)
	}))
	defer srv.Close()

	err := New(Config{BaseURL: srv.URL}).AddCustomerToConference(context.Background(), "ConfABC", "+14805551234")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if got["conferenceId"] != "ConfABC" || got["phone"] != "+14805551234" {
		t.Fatalf("unexpected body %v", got)
	}
}

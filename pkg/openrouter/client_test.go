package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient("test-key", Options{BaseURL: srv.URL, Model: "test/model"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func completionBody(content string) string {
	quoted, _ := json.Marshal(content)
	return `{"choices":[{"message":{"content":` + string(quoted) + `}}]}`
}

func TestComplete_SendsAuthAndMessages(t *testing.T) {
	var got chatRequest
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.Write([]byte(completionBody("120 credits are required.")))
	})

	reply, err := c.Complete(context.Background(), "You are an advisor.", "How many credits?", 512, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if reply != "120 credits are required." {
		t.Errorf("reply = %q", reply)
	}
	if auth != "Bearer test-key" {
		t.Errorf("auth header = %q", auth)
	}
	if got.Model != "test/model" || got.MaxTokens != 512 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestComplete_NoSystemPrompt(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(completionBody("ok")))
	})

	if _, err := c.Complete(context.Background(), "", "hi", 10, 0); err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestComplete_RateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Complete(context.Background(), "", "hi", 10, 0)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
}

func TestComplete_UpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusBadGateway)
	})

	_, err := c.Complete(context.Background(), "", "hi", 10, 0)
	if !errors.Is(err, ErrBadStatus) || errors.Is(err, ErrRateLimited) {
		t.Fatalf("want ErrBadStatus, got %v", err)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error lacks status: %v", err)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})

	if _, err := c.Complete(context.Background(), "", "hi", 10, 0); err == nil {
		t.Fatal("want error for empty choices")
	}
}

func TestNewClient_RequiresKey(t *testing.T) {
	if _, err := NewClient("", Options{}, nil); err == nil {
		t.Fatal("want error for missing key")
	}
}

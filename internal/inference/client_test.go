package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCompleteSuccess(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Errorf("path = %q, want /predict", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "Hi!"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	out, err := c.Complete(context.Background(), Request{
		Message: "hello",
		History: []Turn{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "reply"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "Hi!" {
		t.Fatalf("reply = %q, want %q", out, "Hi!")
	}
	if got.Message != "hello" {
		t.Fatalf("forwarded message = %q", got.Message)
	}
	if len(got.History) != 2 || got.History[1].Role != "assistant" {
		t.Fatalf("forwarded history = %+v", got.History)
	}
}

func TestCompleteOmitsEmptyOptionalFields(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "ok"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	if _, err := c.Complete(context.Background(), Request{Message: "hi"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, ok := raw["image"]; ok {
		t.Fatal("empty image was serialized")
	}
	if _, ok := raw["history"]; ok {
		t.Fatal("empty history was serialized")
	}
}

func TestCompleteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately: connection refused

	c := NewHTTPClient(srv.URL, time.Second)
	_, err := c.Complete(context.Background(), Request{Message: "hello"})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestCompleteTimeoutIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 20*time.Millisecond)
	_, err := c.Complete(context.Background(), Request{Message: "hello"})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestCompleteEmptyResponse(t *testing.T) {
	for name, body := range map[string]string{
		"blank field":   `{"response": "   "}`,
		"missing field": `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL, time.Second)
			_, err := c.Complete(context.Background(), Request{Message: "hello"})
			if !errors.Is(err, ErrEmptyResponse) {
				t.Fatalf("err = %v, want ErrEmptyResponse", err)
			}
		})
	}
}

func TestCompleteNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"response": "Error processing your request with LLaVA."}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	_, err := c.Complete(context.Background(), Request{Message: "hello"})
	if err == nil {
		t.Fatal("expected error for 500 status")
	}
	if errors.Is(err, ErrUnreachable) || errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("500 mapped to the wrong typed error: %v", err)
	}
}

func TestCompleteUndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	if _, err := c.Complete(context.Background(), Request{Message: "hello"}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewHTTPClientDefaults(t *testing.T) {
	c := NewHTTPClient("http://llm:5000/", 0)
	if c.BaseURL != "http://llm:5000" {
		t.Fatalf("BaseURL = %q, trailing slash not trimmed", c.BaseURL)
	}
	if c.HC.Timeout != DefaultTimeout {
		t.Fatalf("timeout = %v, want default %v", c.HC.Timeout, DefaultTimeout)
	}
}

package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestCreateChatCompletionRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("неожиданная авторизация: %q", r.Header.Get("Authorization"))
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{}"}}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL+"/", time.Second)
	c.backoff = time.Millisecond
	resp, err := c.CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Usage.TotalTokens != 3 {
		t.Fatalf("неожиданный ответ: %+v", resp)
	}
	if calls.Load() != 2 {
		t.Fatalf("ожидали 2 запроса, получили %d", calls.Load())
	}
}

func TestCreateChatCompletionDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, time.Second)
	c.backoff = time.Millisecond
	_, err := c.CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	if err == nil || err.Error() != "openai: status 400: bad model" {
		t.Fatalf("ожидали ошибку API, получили %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx не должен повторяться, запросов %d", calls.Load())
	}
}

func TestCreateChatCompletionReturnsLastServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, time.Second)
	c.backoff = time.Millisecond
	resp, err := c.CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("ожидали ошибку API после повторов, получили %v (%+v)", err, resp)
	}
	if calls.Load() != 3 {
		t.Fatalf("ожидали 3 попытки, получили %d", calls.Load())
	}
}

func TestCreateChatCompletionStatusWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient("key", srv.URL, time.Second).CreateChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
	if err == nil || err.Error() != "openai: unexpected status 401" {
		t.Fatalf("ожидали ошибку статуса, получили %v", err)
	}
}

func TestCreateChatCompletionRequiresKey(t *testing.T) {
	if _, err := NewClient("", "", 0).CreateChatCompletion(context.Background(), ChatCompletionRequest{}); err == nil {
		t.Fatalf("ожидали ошибку без ключа")
	}
}

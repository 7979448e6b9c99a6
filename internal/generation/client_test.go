package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raaihank/sentinel-mask/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.UpstreamConfig {
	return config.UpstreamConfig{
		BaseURL:      baseURL,
		APIKey:       "sk-test",
		Model:        "test-model",
		SystemPrompt: "Be brief.",
		Timeout:      5 * time.Second,
		MaxRetries:   2,
		RetryDelay:   time.Millisecond,
	}
}

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"model": "test-model",
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	})
}

func TestGenerate(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		reply(w, "Contact [EMAIL_MASK_s_0].")
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL+"/"), nil)
	resp, err := c.Generate(context.Background(), Request{
		Instructions: "Keep tokens.",
		Text:         "write to [EMAIL_MASK_s_0]",
	})
	require.NoError(t, err)

	assert.Equal(t, "Contact [EMAIL_MASK_s_0].", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, "Bearer sk-test", auth)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "Be brief.\n\nKeep tokens.", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "write to [EMAIL_MASK_s_0]", got.Messages[1].Content)
	assert.Equal(t, "test-model", got.Model)
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		reply(w, "ok")
	}))
	defer srv.Close()

	resp, err := NewClient(testConfig(srv.URL), nil).Generate(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, resp.Attempts)
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL), nil).Generate(context.Background(), Request{Text: "hi"})
	require.Error(t, err)

	var status *StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusUnauthorized, status.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerateGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL), nil).Generate(context.Background(), Request{Text: "hi"})
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerateEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL), nil).Generate(context.Background(), Request{Text: "hi"})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestGenerateHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RetryDelay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(cfg, nil).Generate(ctx, Request{Text: "hi"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMessagesWithoutSystemPrompt(t *testing.T) {
	c := NewClient(config.UpstreamConfig{BaseURL: "http://x"}, nil)
	msgs := c.messages(Request{Text: "hi"})
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}

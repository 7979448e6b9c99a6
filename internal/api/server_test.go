package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raaihank/sentinel-mask/internal/audit"
	"github.com/raaihank/sentinel-mask/internal/config"
	"github.com/raaihank/sentinel-mask/internal/generation"
	"github.com/raaihank/sentinel-mask/internal/metrics"
	"github.com/raaihank/sentinel-mask/internal/privacy"
	"github.com/raaihank/sentinel-mask/internal/ratelimit"
	"github.com/raaihank/sentinel-mask/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoGenerator replies with a fixed template where {text} is the masked
// input
type echoGenerator struct {
	mu       sync.Mutex
	template string
	err      error
	requests []generation.Request
}

func (g *echoGenerator) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &generation.Response{
		Text:  strings.ReplaceAll(g.template, "{text}", req.Text),
		Model: "echo",
	}, nil
}

type fakeStats struct {
	mu     sync.Mutex
	events []stats.Event
}

func (f *fakeStats) Record(ctx context.Context, ev stats.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStats) Recent(ctx context.Context, now time.Time, days int) ([]*stats.DailyStats, error) {
	return []*stats.DailyStats{{Date: "2024-03-05", Operations: map[string]int64{"mask": 1}}}, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAudit) Record(ctx context.Context, entry *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAudit) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	return nil, errors.New("database down")
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	s, err := New(cfg, nil, opts)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestMaskEndpoint(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodPost, "/v1/mask", maskRequest{
		Text:  "Mail jane@example.com, card 4111 1111 1111 1111",
		Scope: "r1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var resp maskResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "mail [EMAIL_MASK_r1_0], card [CREDIT_CARD_MASK_r1_0]", resp.MaskedText)
	assert.Equal(t, []string{"[CREDIT_CARD_MASK_r1_0]", "[EMAIL_MASK_r1_0]"}, resp.Tokens)
	assert.Equal(t, "[EMAIL_MASK_r1_0]", resp.MaskMap[privacy.ClassEmail]["jane@example.com"])
	assert.Len(t, resp.Findings, 2)
}

func TestMaskEndpointErrors(t *testing.T) {
	s := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/v1/mask", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/mask", maskRequest{Text: "x", Scope: "a b"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.config.Server.MaxBodyBytes = 16
	rec = do(t, s, http.MethodPost, "/v1/mask", maskRequest{Text: strings.Repeat("a", 64)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUnmaskEndpoint(t *testing.T) {
	s := newTestServer(t, Options{})

	mm := privacy.MaskMap{privacy.ClassEmail: {"a@b.com": "[EMAIL_MASK_s_0]"}}
	rec := do(t, s, http.MethodPost, "/v1/unmask", unmaskRequest{
		Text:    "Sent to [EMAIL_MASK_s_0] and [EMAIL_MASK_s_9].",
		MaskMap: mm,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp unmaskResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Sent to a@b.com and [EMAIL_MASK_s_9].", resp.Text)
	assert.Equal(t, []string{"[EMAIL_MASK_s_9]"}, resp.UnresolvedTokens)
}

func TestChatEndpoint(t *testing.T) {
	gen := &echoGenerator{template: "You said: {text}"}
	s := newTestServer(t, Options{Generator: gen})

	rec := do(t, s, http.MethodPost, "/v1/chat", chatRequest{Text: "My mail is Jane@Example.com", Scope: "c"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "You said: my mail is jane@example.com", resp.Reply)
	assert.Equal(t, "You said: my mail is [EMAIL_MASK_c_0]", resp.MaskedReply)
	assert.Empty(t, resp.UnresolvedTokens)

	require.Len(t, gen.requests, 1)
	assert.Equal(t, "my mail is [EMAIL_MASK_c_0]", gen.requests[0].Text)
	assert.Contains(t, gen.requests[0].Instructions, "[EMAIL_MASK_c_0]")
	assert.NotContains(t, gen.requests[0].Instructions, "jane@example.com")
}

func TestChatConversation(t *testing.T) {
	gen := &echoGenerator{template: "ok"}
	s := newTestServer(t, Options{Generator: gen})

	rec := do(t, s, http.MethodPost, "/v1/chat", chatRequest{Text: "I am a@b.com", ConversationID: "conv"})
	require.Equal(t, http.StatusOK, rec.Code)
	var first chatResponse
	decodeBody(t, rec, &first)
	assert.Equal(t, "conv-t1", first.Scope)

	gen.template = "Earlier you gave [EMAIL_MASK_conv-t1_0], now {text}"
	rec = do(t, s, http.MethodPost, "/v1/chat", chatRequest{Text: "call 0532 123 45 67", ConversationID: "conv"})
	require.Equal(t, http.StatusOK, rec.Code)

	var second chatResponse
	decodeBody(t, rec, &second)
	assert.Equal(t, "conv-t2", second.Scope)
	assert.Equal(t, "Earlier you gave a@b.com, now call 0532 123 45 67", second.Reply)

	// the stored maps also serve plain unmask calls
	rec = do(t, s, http.MethodPost, "/v1/unmask", unmaskRequest{Text: "[EMAIL_MASK_conv-t1_0]", ConversationID: "conv"})
	var unmasked unmaskResponse
	decodeBody(t, rec, &unmasked)
	assert.Equal(t, "a@b.com", unmasked.Text)

	rec = do(t, s, http.MethodGet, "/v1/conversations", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"conv"`)

	rec = do(t, s, http.MethodDelete, "/v1/conversations/conv", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodDelete, "/v1/conversations/conv", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatErrors(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s, http.MethodPost, "/v1/chat", chatRequest{Text: "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s = newTestServer(t, Options{Generator: &echoGenerator{err: errors.New("upstream down")}})
	rec = do(t, s, http.MethodPost, "/v1/chat", chatRequest{Text: "hi"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/chat", chatRequest{Text: "hi", ConversationID: "bad id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassesAndInfo(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/v1/classes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var classes struct {
		Enabled bool        `json:"enabled"`
		Classes []classInfo `json:"classes"`
	}
	decodeBody(t, rec, &classes)
	assert.True(t, classes.Enabled)
	require.Len(t, classes.Classes, 4)
	assert.Equal(t, "EMAIL_MASK", classes.Classes[0].PlaceholderTag)

	rec = do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = do(t, s, http.MethodGet, "/info", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"sentinel-mask"`)

	rec = do(t, s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestReload(t *testing.T) {
	s := newTestServer(t, Options{})

	require.NoError(t, s.Reload(config.PrivacyConfig{Enabled: true, Detectors: []string{privacy.ClassURL}}))
	assert.Equal(t, []string{privacy.ClassURL}, s.Engine().ClassNames())

	rec := do(t, s, http.MethodPost, "/v1/mask", maskRequest{Text: "a@b.com http://x.io"})
	var resp maskResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "a@b.com [URL_MASK__0]", resp.MaskedText)

	assert.Error(t, s.Reload(config.PrivacyConfig{Detectors: []string{"nope"}}))
	assert.Equal(t, []string{privacy.ClassURL}, s.Engine().ClassNames())
}

func TestRateLimit(t *testing.T) {
	cfg := config.GetDefaults()
	limiter := ratelimit.New(config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1})
	m := metrics.New(nil)
	s, err := New(cfg, nil, Options{Limiter: limiter, Metrics: m})
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/v1/mask", maskRequest{Text: "x"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/mask", maskRequest{Text: "x"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sentinel_mask_http_rate_limited_total 1")
}

func TestStatsAndAuditRecording(t *testing.T) {
	st := &fakeStats{}
	au := &fakeAudit{}
	s := newTestServer(t, Options{Stats: st, Audit: au})

	rec := do(t, s, http.MethodPost, "/v1/mask", maskRequest{Text: "a@b.com and c@d.com", Scope: "s"})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, st.events, 1)
	assert.Equal(t, stats.OpMask, st.events[0].Operation)
	assert.Equal(t, map[string]int{privacy.ClassEmail: 2}, st.events[0].Counts)

	require.Len(t, au.entries, 1)
	assert.Equal(t, "s", au.entries[0].Scope)
	assert.Equal(t, 2, au.entries[0].Tokens)
	assert.NotContains(t, au.entries[0].RequestID, "@")

	rec = do(t, s, http.MethodGet, "/v1/stats?days=3", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2024-03-05")

	rec = do(t, s, http.MethodGet, "/v1/audit", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsAndAuditDisabled(t *testing.T) {
	s := newTestServer(t, Options{})
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/stats", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/audit", nil).Code)
}

func TestRequestIDPropagation(t *testing.T) {
	s := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/v1/classes", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 7},
		{"3", 3},
		{"0", 7},
		{"abc", 7},
		{"1000", 90},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/v1/stats?days="+tt.raw, nil)
		assert.Equal(t, tt.want, queryInt(req, "days", 7, 1, 90), "raw %q", tt.raw)
	}
}

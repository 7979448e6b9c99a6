package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/sentinel-mask/internal/audit"
	"github.com/raaihank/sentinel-mask/internal/generation"
	"github.com/raaihank/sentinel-mask/internal/privacy"
	"github.com/raaihank/sentinel-mask/internal/session"
	"github.com/raaihank/sentinel-mask/internal/stats"
	"github.com/raaihank/sentinel-mask/internal/websocket"
	"go.uber.org/zap"
)

type maskRequest struct {
	Text  string `json:"text"`
	Scope string `json:"scope,omitempty"`
}

type maskResponse struct {
	MaskedText string            `json:"masked_text"`
	MaskMap    privacy.MaskMap   `json:"mask_map"`
	Tokens     []string          `json:"tokens"`
	Findings   []privacy.Finding `json:"findings"`
}

type unmaskRequest struct {
	Text           string            `json:"text"`
	MaskMap        privacy.MaskMap   `json:"mask_map,omitempty"`
	MaskMaps       []privacy.MaskMap `json:"mask_maps,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
}

type unmaskResponse struct {
	Text             string   `json:"text"`
	UnresolvedTokens []string `json:"unresolved_tokens"`
}

type chatRequest struct {
	Text           string `json:"text"`
	Scope          string `json:"scope,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
}

type chatResponse struct {
	Reply            string            `json:"reply"`
	MaskedText       string            `json:"masked_text"`
	MaskedReply      string            `json:"masked_reply"`
	Scope            string            `json:"scope"`
	ConversationID   string            `json:"conversation_id,omitempty"`
	Findings         []privacy.Finding `json:"findings"`
	UnresolvedTokens []string          `json:"unresolved_tokens"`
	Model            string            `json:"model,omitempty"`
}

type classInfo struct {
	Name           string `json:"name"`
	Pattern        string `json:"pattern"`
	PlaceholderTag string `json:"placeholder_tag"`
}

// handleMask masks the request text
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())

	var req maskRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := privacy.ValidateScope(req.Scope); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	engine := s.Engine()
	result := engine.MaskText(req.Text, req.Scope)
	scope := req.Scope
	if scope == "" {
		scope = engine.DefaultScope()
	}

	s.recordMask(r.Context(), stats.OpMask, requestID, scope, result, time.Since(start))
	s.metrics.ObserveOperation(stats.OpMask, "ok", time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, maskResponse{
		MaskedText: result.MaskedText,
		MaskMap:    result.MaskMap,
		Tokens:     result.MaskMap.Tokens(),
		Findings:   result.Findings,
	})
}

// handleUnmask restores tokens from the supplied maps, then from the
// conversation's stored maps
func (s *Server) handleUnmask(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())

	var req unmaskRequest
	if !s.decode(w, r, &req) {
		return
	}

	maps := make([]privacy.MaskMap, 0, len(req.MaskMaps)+1)
	if req.MaskMap != nil {
		maps = append(maps, req.MaskMap)
	}
	maps = append(maps, req.MaskMaps...)
	if req.ConversationID != "" {
		maps = append(maps, s.sessions.Maps(req.ConversationID)...)
	}

	result := s.Engine().UnmaskText(req.Text, maps...)
	s.recordUnmask(r.Context(), stats.OpUnmask, requestID, req.ConversationID, maps, result, time.Since(start))
	s.metrics.ObserveOperation(stats.OpUnmask, "ok", time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, unmaskResponse{
		Text:             result.Text,
		UnresolvedTokens: result.Unresolved,
	})
}

// handleChat masks the text, asks the generation service and unmasks the
// reply. With a conversation id every earlier turn's map is used too.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	if s.generator == nil {
		writeError(w, http.StatusServiceUnavailable, "generation service is not configured")
		return
	}

	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := privacy.ValidateScope(req.Scope); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	engine := s.Engine()
	scope := req.Scope
	if req.ConversationID != "" {
		turnScope, err := s.sessions.NextScope(req.ConversationID)
		if errors.Is(err, session.ErrInvalidID) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			log.Error("Failed to start conversation turn", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to start conversation turn")
			return
		}
		scope = turnScope
	}
	if scope == "" {
		scope = engine.DefaultScope()
	}

	masked := engine.MaskText(req.Text, scope)
	s.recordMask(r.Context(), stats.OpChat, requestID, scope, masked, time.Since(start))

	instructions := privacy.PlaceholderInstructions(masked.MaskMap)
	if req.Instructions != "" {
		instructions = strings.TrimSpace(req.Instructions + "\n\n" + instructions)
	}

	reply, err := s.generator.Generate(r.Context(), generation.Request{
		Instructions: instructions,
		Text:         masked.MaskedText,
	})
	if err != nil {
		log.Error("Generation failed", zap.Error(err))
		s.metrics.ObserveOperation(stats.OpChat, "error", time.Since(start).Seconds())
		writeError(w, http.StatusBadGateway, "generation failed")
		return
	}

	maps := []privacy.MaskMap{masked.MaskMap}
	if req.ConversationID != "" {
		if s.sessions.Append(req.ConversationID, scope, masked.MaskMap) {
			maps = s.sessions.Maps(req.ConversationID)
		}
	}

	unmasked := engine.UnmaskText(reply.Text, maps...)
	s.recordUnmask(r.Context(), stats.OpChat, requestID, scope, maps, unmasked, time.Since(start))
	s.metrics.ObserveOperation(stats.OpChat, "ok", time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, chatResponse{
		Reply:            unmasked.Text,
		MaskedText:       masked.MaskedText,
		MaskedReply:      reply.Text,
		Scope:            scope,
		ConversationID:   req.ConversationID,
		Findings:         masked.Findings,
		UnresolvedTokens: unmasked.Unresolved,
		Model:            reply.Model,
	})
}

func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	classes := s.Engine().Classes()
	out := make([]classInfo, 0, len(classes))
	for _, c := range classes {
		out = append(out, classInfo{Name: c.Name(), Pattern: c.Pattern(), PlaceholderTag: c.PlaceholderTag()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": s.Engine().Enabled(),
		"classes": out,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": s.sessions.List(),
	})
}

func (s *Server) handleForgetConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.sessions.Forget(id) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotFound, "detection stats are disabled")
		return
	}

	days := queryInt(r, "days", 7, 1, 90)
	recent, err := s.stats.Recent(r.Context(), time.Now(), days)
	if err != nil {
		s.logger.Error("Failed to read detection stats", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "detection stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"days": recent})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "audit log is disabled")
		return
	}

	limit := queryInt(r, "limit", 50, 1, 500)
	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read audit log", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	engine := s.Engine()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":              "sentinel-mask",
		"version":           Version,
		"privacy_enabled":   engine.Enabled(),
		"classes":           engine.ClassNames(),
		"generation":        s.generator != nil,
		"stats_enabled":     s.stats != nil,
		"audit_enabled":     s.audit != nil,
		"websocket_enabled": s.wsHub != nil && s.config.WebSocket.Enabled,
		"uptime":            time.Since(s.started).Round(time.Second).String(),
	})
}

// recordMask feeds metrics, stats, audit and live events. Failures of the
// optional stores are logged and never fail the request.
func (s *Server) recordMask(ctx context.Context, op, requestID, scope string, result privacy.Result, d time.Duration) {
	counts := make(map[string]int, len(result.Findings))
	tokens := 0
	for _, f := range result.Findings {
		counts[f.EntityType] = f.Tokens
		tokens += f.Tokens
	}
	s.masked.Add(int64(tokens))

	s.metrics.ObserveMasked(counts)

	log := s.logger.WithRequestID(requestID)
	if s.stats != nil {
		if err := s.stats.Record(ctx, stats.Event{Operation: op, Counts: counts}); err != nil {
			log.Warn("Failed to record detection stats", zap.Error(err))
		}
	}
	if s.audit != nil {
		entry := &audit.Entry{
			RequestID:  requestID,
			Scope:      scope,
			Operation:  op,
			Counts:     counts,
			Tokens:     tokens,
			DurationMs: d.Milliseconds(),
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			log.Warn("Failed to write audit entry", zap.Error(err))
		}
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeMasking,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: websocket.MaskingEvent{
			RequestID:    requestID,
			Operation:    op,
			Scope:        scope,
			Findings:     result.Findings,
			TotalTokens:  tokens,
			ProcessingMS: float64(d.Microseconds()) / 1000,
		},
	})
}

func (s *Server) recordUnmask(ctx context.Context, op, requestID, scope string, maps []privacy.MaskMap, result privacy.UnmaskResult, d time.Duration) {
	known := 0
	for _, mm := range maps {
		known += mm.Len()
	}
	unresolved := len(result.Unresolved)

	s.metrics.ObserveUnresolved(unresolved)

	// chat already counted its operation when masking
	statsOp := op
	if op != stats.OpUnmask {
		statsOp = ""
	}

	log := s.logger.WithRequestID(requestID)
	if s.stats != nil && (statsOp != "" || unresolved > 0) {
		if err := s.stats.Record(ctx, stats.Event{Operation: statsOp, Unresolved: unresolved}); err != nil {
			log.Warn("Failed to record detection stats", zap.Error(err))
		}
	}
	if s.audit != nil {
		entry := &audit.Entry{
			RequestID:  requestID,
			Scope:      scope,
			Operation:  op + "_unmask",
			Tokens:     known,
			Unresolved: unresolved,
			DurationMs: d.Milliseconds(),
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			log.Warn("Failed to write audit entry", zap.Error(err))
		}
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeUnmasking,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: websocket.UnmaskingEvent{
			RequestID:    requestID,
			Operation:    op,
			KnownTokens:  known,
			Unresolved:   unresolved,
			ProcessingMS: float64(d.Microseconds()) / 1000,
		},
	})
}

// decode reads a JSON body within the configured size limit. It writes the
// error response itself and reports whether decoding succeeded.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if s.config.Server.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def, min, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

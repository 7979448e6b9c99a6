package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/raaihank/sentinel-mask/internal/privacy"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeMasking is sent after text was masked
	EventTypeMasking EventType = "masking"
	// EventTypeUnmasking is sent after text was unmasked
	EventTypeUnmasking EventType = "unmasking"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// MaskingEvent describes one masking call. Only counts are carried.
type MaskingEvent struct {
	RequestID    string            `json:"request_id"`
	Operation    string            `json:"operation"`
	Scope        string            `json:"scope,omitempty"`
	Findings     []privacy.Finding `json:"findings"`
	TotalTokens  int               `json:"total_tokens"`
	ProcessingMS float64           `json:"processing_ms"`
}

// UnmaskingEvent describes one unmasking call
type UnmaskingEvent struct {
	RequestID    string  `json:"request_id"`
	Operation    string  `json:"operation"`
	KnownTokens  int     `json:"known_tokens"`
	Unresolved   int     `json:"unresolved"`
	ProcessingMS float64 `json:"processing_ms"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string   `json:"status"`
	Uptime           string   `json:"uptime"`
	TotalRequests    int64    `json:"total_requests"`
	TotalMasked      int64    `json:"total_masked"`
	ActiveClasses    []string `json:"active_classes"`
	ConnectedClients int      `json:"connected_clients"`
	Conversations    int      `json:"conversations"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows the events a client receives
type EventFilter struct {
	// EntityClasses keeps only masking events with a finding of one of these
	// classes.
	EntityClasses []string `json:"entity_classes,omitempty"`
	// Operations keeps only events of these operations.
	Operations []string `json:"operations,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}

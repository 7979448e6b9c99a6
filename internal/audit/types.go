package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is one audited masking operation. It records what happened, never
// the values that were masked or the tokens that stand for them.
type Entry struct {
	ID         int64       `db:"id" json:"id"`
	RequestID  string      `db:"request_id" json:"request_id"`
	Scope      string      `db:"scope" json:"scope"`
	Operation  string      `db:"operation" json:"operation"`
	Counts     ClassCounts `db:"class_counts" json:"class_counts"`
	Tokens     int         `db:"tokens" json:"tokens"`
	Unresolved int         `db:"unresolved" json:"unresolved"`
	DurationMs int64       `db:"duration_ms" json:"duration_ms"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// ClassCounts maps entity class to distinct masked values. Stored as JSONB.
type ClassCounts map[string]int

// Value implements driver.Valuer
func (c ClassCounts) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner
func (c *ClassCounts) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = ClassCounts{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported class_counts type %T", src)
	}

	out := ClassCounts{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode class_counts: %w", err)
	}
	*c = out
	return nil
}

// OperationSummary counts audited operations of one kind
type OperationSummary struct {
	Operation  string `db:"operation" json:"operation"`
	Count      int64  `db:"count" json:"count"`
	Tokens     int64  `db:"tokens" json:"tokens"`
	Unresolved int64  `db:"unresolved" json:"unresolved"`
}

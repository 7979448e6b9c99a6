package stats

import "time"

// Operation names recorded by the service
const (
	OpMask   = "mask"
	OpUnmask = "unmask"
	OpChat   = "chat"
	OpBatch  = "batch"
)

// Event is one masking operation reduced to counts. It never carries raw
// values or tokens.
type Event struct {
	Operation  string
	Counts     map[string]int // distinct masked values per class
	Unresolved int
	At         time.Time
}

// DailyStats aggregates the events of one UTC day
type DailyStats struct {
	Date       string           `json:"date"`
	Operations map[string]int64 `json:"operations"`
	Classes    map[string]int64 `json:"classes"`
	Unresolved int64            `json:"unresolved_tokens"`
}

// Total returns the number of masked values across classes.
func (d *DailyStats) Total() int64 {
	var n int64
	for _, v := range d.Classes {
		n += v
	}
	return n
}

package publishers

import (
	"time"
)

// Event represents a finished request published downstream.
type Event struct {
	Source      string    `json:"source"`
	RequestID   string    `json:"request_id"`
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	Outcome     string    `json:"outcome"`
	StatusCode  int       `json:"status_code,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
	PublishedAt time.Time `json:"published_at"`
}

// Stamp returns a copy of the event with PublishedAt set to now.
func (e Event) Stamp() Event {
	e.PublishedAt = time.Now().UTC()
	return e
}

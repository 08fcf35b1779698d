package core

import "github.com/google/uuid"

// NewID generates a new unique identifier for runs, events and synthetic
// tool call ids.
func NewID() string {
	return uuid.NewString()
}

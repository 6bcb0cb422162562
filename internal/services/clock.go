package services

import (
	"time"

	"github.com/carelink/care-server/internal/models"
)

// Clock supplies the current instant and the calendar "today" is computed in.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

// NewClock returns a wall clock for the given calendar location.
func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{Now: time.Now, Location: loc}
}

// Today returns the current calendar date as a stored date value.
func (c *Clock) Today() time.Time {
	return models.DateOf(c.Now(), c.Location)
}

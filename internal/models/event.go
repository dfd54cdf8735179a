package models

import (
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	// MaxNameLength bounds group names.
	MaxNameLength = 200

	// MaxTitleLength bounds event titles.
	MaxTitleLength = 500
)

// EventFields are the user-supplied parts of an event. They are what a
// mutation carries across the wire.
type EventFields struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	Location    string `json:"location"`
	Description string `json:"description"`
}

// Validate checks the fields every event needs regardless of origin.
// Only the title is mandatory; peers may omit the rest.
func (f *EventFields) Validate() error {
	if f.Title == "" {
		return fmt.Errorf("title is required")
	}
	if n := utf8.RuneCountInString(f.Title); n > MaxTitleLength {
		return fmt.Errorf("title must be %d characters or less (got %d)", MaxTitleLength, n)
	}
	return nil
}

// Complete reports the first empty field. Locally created events require
// every field.
func (f *EventFields) Complete() error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Date == "" {
		return fmt.Errorf("date is required")
	}
	if f.Location == "" {
		return fmt.Errorf("location is required")
	}
	if f.Description == "" {
		return fmt.Errorf("description is required")
	}
	return nil
}

// Event is a stored event belonging to one group.
type Event struct {
	ID      int64 `json:"id"`
	GroupID int64 `json:"group_id"`
	EventFields
	CreatedAt time.Time `json:"created_at"`
}

package db

import "time"

// Image is a row of the images table.
type Image struct {
	ID        int64
	Prompt    string // final prompt sent to the provider
	Original  string // prompt as the user typed it
	ImageURL  string
	Provider  string
	Model     string
	Guidance  int
	Rating    *int
	IsPublic  bool
	UserID    *string
	PromptID  string
	RequestID string
	Tags      []string
	TaggedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

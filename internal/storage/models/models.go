package models

import "time"

// UniqueQuestion is one semantically distinct question seen on any channel.
// Near-duplicates increment Count instead of creating new rows, so the table
// doubles as a popularity ranking for the admin analytics page.
type UniqueQuestion struct {
	ID        int64     `json:"id"`
	Question  string    `json:"question"`
	Embedding []float32 `json:"-"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	Count     int       `json:"count"`
}

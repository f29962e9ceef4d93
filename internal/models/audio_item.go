package models

import "time"

// AudioItem describes one staged audio file ready to become a feed entry.
type AudioItem struct {
	FilePath        string    `json:"file_path"`
	Filename        string    `json:"filename"`
	Title           string    `json:"title"`
	DurationSeconds float64   `json:"duration_seconds"`
	SizeBytes       int64     `json:"size_bytes"`
	PublishedAt     time.Time `json:"published_at"`
	GUID            string    `json:"guid"`
}

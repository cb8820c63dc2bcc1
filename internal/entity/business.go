package entity

import "time"

// Business owns intake and archive folders and a fixed identifier prefix.
type Business struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Prefix      string    `json:"prefix"`
	IntakePath  string    `json:"intake_path"`
	ArchivePath string    `json:"archive_path"`
	CreatedAt   time.Time `json:"created_at"`
}

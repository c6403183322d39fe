// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// TrainTask represents an asynchronous ingestion run over the source directory.
type TrainTask struct {
	TaskID      string    `json:"task_id"`
	SourceDir   string    `json:"source_dir"`
	Force       bool      `json:"force"`
	RequestedAt time.Time `json:"requested_at"`
}

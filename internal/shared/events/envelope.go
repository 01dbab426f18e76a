package events

import "time"

// Envelope is the shared event shape used across Gallows. Notifications
// produced by the vote engine and phase events consumed by it travel in this
// envelope, partitioned by turn for stable ordering on turn-scoped consumers.
type Envelope struct {
	EventID          string    `json:"event_id"`
	EventType        string    `json:"event_type"`
	OccurredAt       time.Time `json:"occurred_at"`
	SourceService    string    `json:"source_service"`
	TraceID          string    `json:"trace_id"`
	SchemaVersion    int       `json:"schema_version"`
	PartitionKeyPath string    `json:"partition_key_path"`
	PartitionKey     string    `json:"partition_key"`
	Data             []byte    `json:"data"`
}

package outbox

import "time"

// Message is an outbox row persisted alongside audit-log writes. The relay
// worker reads pending rows and publishes them to the event bus, marking a
// row published only after the publish succeeds.
type Message struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

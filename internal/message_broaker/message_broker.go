package message_broaker

import "context"

// MessageBroker carries enqueued jobs from producers to the ingest worker
// when the queue writer is enabled.
type MessageBroker interface {
	Publish(ctx context.Context, message []byte) error
	Consume(ctx context.Context) (<-chan []byte, error)
	Close() error
}

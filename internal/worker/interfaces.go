package worker

import (
	"context"

	"copyforge.app/pipeline/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// RunProcessor abstracts the pipeline execution for testability.
type RunProcessor interface {
	Process(ctx context.Context, msg queue.Message) error
}

package transport

import (
	"context"
	"time"

	"github.com/unclebandit/wagateway/internal/metrics"
	"github.com/unclebandit/wagateway/internal/model"
)

// WithMetrics wraps a channel with send counters and latency.
func WithMetrics(ch Channel) Channel {
	return &instrumented{next: ch}
}

type instrumented struct {
	next Channel
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Send(ctx context.Context, creds model.DeliveryCredentials, phone, content string) (string, error) {
	start := time.Now()
	id, err := i.next.Send(ctx, creds, phone, content)
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	metrics.ObserveTransport(i.next.Name(), outcome, time.Since(start))
	return id, err
}

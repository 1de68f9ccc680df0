package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/unclebandit/wagateway/internal/queue"
	"github.com/unclebandit/wagateway/internal/repository"
)

// Scheduler hands due scheduled messages to the queue.
type Scheduler struct {
	Messages repository.MessageRepositoryInterface
	Queue    queue.Queue
	Interval time.Duration
	Batch    int
	// Lease bounds how long a claimed message may stay pending before the
	// poller fails it as lost.
	Lease time.Duration
	Log   zerolog.Logger
	Now   func() time.Time
}

// Start polls every Interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	log := s.Log.With().Str("component", "scheduler").Logger()
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler exiting")
			return
		case <-ticker.C:
			n, err := s.Poll(ctx)
			if err != nil {
				log.Error().Err(err).Msg("scheduler poll")
			}
			if n > 0 {
				log.Info().Int("published", n).Msg("due messages queued")
			}
		}
	}
}

// lostReason is recorded on scheduled messages whose job never finished.
const lostReason = "scheduled dispatch lost"

// Poll claims one batch of due messages and publishes them. Messages that
// could not be published go back to scheduled for the next poll. Claimed
// messages still pending after Lease are failed first.
func (s *Scheduler) Poll(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	batch := s.Batch
	if batch <= 0 {
		batch = 100
	}

	lease := s.Lease
	if lease <= 0 {
		lease = 10 * time.Minute
	}

	var result *multierror.Error
	if n, err := s.Messages.FailStaleScheduled(ctx, now.Add(-lease), lostReason); err != nil {
		result = multierror.Append(result, fmt.Errorf("fail stale messages: %w", err))
	} else if n > 0 {
		s.Log.Warn().Int64("count", n).Dur("lease", lease).Msg("scheduled messages lost after claim, marked failed")
	}

	ids, err := s.Messages.ClaimDueScheduled(ctx, now, batch)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("claim due messages: %w", err))
		return 0, result.ErrorOrNil()
	}

	var failed []int64
	published := 0
	for _, id := range ids {
		if err := s.Queue.Publish(queue.TopicScheduledSends, queue.ScheduledJob{MessageID: id}); err != nil {
			result = multierror.Append(result, fmt.Errorf("publish message %d: %w", id, err))
			failed = append(failed, id)
			continue
		}
		published++
	}

	if len(failed) > 0 {
		if err := s.Messages.RequeueScheduled(context.WithoutCancel(ctx), failed); err != nil {
			result = multierror.Append(result, fmt.Errorf("requeue: %w", err))
		}
	}
	return published, result.ErrorOrNil()
}

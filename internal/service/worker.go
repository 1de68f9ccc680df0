package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/wagateway/internal/errors"
	"github.com/unclebandit/wagateway/internal/model"
	"github.com/unclebandit/wagateway/internal/queue"
)

// ScheduledDispatcher defines the method the worker needs
type ScheduledDispatcher interface {
	DispatchScheduled(ctx context.Context, id int64) (*model.Message, error)
}

// Worker processes scheduled-send jobs
type Worker struct {
	Dispatcher ScheduledDispatcher
	Timeout    time.Duration
	Log        zerolog.Logger
}

// Constructor
func NewWorker(d ScheduledDispatcher, log zerolog.Logger) *Worker {
	return &Worker{
		Dispatcher: d,
		Timeout:    time.Minute,
		Log:        log.With().Str("component", "worker").Logger(),
	}
}

// Start subscribes the worker to the scheduled-send topic.
func (w *Worker) Start(q queue.Queue) error {
	return q.Subscribe(queue.TopicScheduledSends, w.Handle)
}

// Handle processes one job. Malformed jobs and vanished messages are dropped;
// other errors are returned so the queue retries.
func (w *Worker) Handle(body []byte) error {
	var job queue.ScheduledJob
	if err := json.Unmarshal(body, &job); err != nil || job.MessageID == 0 {
		w.Log.Warn().Bytes("body", body).Msg("invalid job")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.Timeout)
	defer cancel()

	msg, err := w.Dispatcher.DispatchScheduled(ctx, job.MessageID)
	if err != nil {
		var nf *appErrors.MessageNotFoundError
		var anf *appErrors.AccountNotFoundError
		if errors.As(err, &nf) || errors.As(err, &anf) {
			w.Log.Warn().Err(err).Int64("message_id", job.MessageID).Msg("dropping job")
			return nil
		}
		// a retry after the transport ran could send the message twice
		var pe *appErrors.PersistenceError
		if errors.As(err, &pe) {
			w.Log.Error().Err(err).Int64("message_id", job.MessageID).Msg("scheduled message left pending")
			return nil
		}
		w.Log.Error().Err(err).Int64("message_id", job.MessageID).Msg("failed to dispatch scheduled message")
		return err
	}

	w.Log.Info().Int64("message_id", msg.ID).Str("status", string(msg.Status)).Msg("scheduled message processed")
	return nil
}

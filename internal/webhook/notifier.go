package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wagateway/internal/metrics"
	"github.com/unclebandit/wagateway/internal/model"
)

const EventMessageSent = "message.sent"

type Event struct {
	Event     string        `json:"event"`
	Data      model.Message `json:"data"`
	Timestamp time.Time     `json:"timestamp"`
}

// Marker records that a notification reached the endpoint.
type Marker interface {
	MarkWebhookNotified(ctx context.Context, messageID int64, at time.Time) error
}

// Notifier posts message events to account webhooks. Delivery is best
// effort: one attempt, bounded by Timeout, failures only logged.
type Notifier struct {
	Client  *http.Client
	Timeout time.Duration
	Marker  Marker
	Log     zerolog.Logger

	wg sync.WaitGroup
}

func NewNotifier(client *http.Client, timeout time.Duration, marker Marker, log zerolog.Logger) *Notifier {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		Client:  client,
		Timeout: timeout,
		Marker:  marker,
		Log:     log.With().Str("component", "webhook").Logger(),
	}
}

// Notify returns immediately; the POST runs on its own goroutine.
func (n *Notifier) Notify(url string, msg model.Message) {
	if url == "" {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.Timeout)
		defer cancel()

		if err := n.post(ctx, url, msg); err != nil {
			metrics.IncWebhookFailure()
			n.Log.Warn().Err(err).
				Int64("message_id", msg.ID).
				Int64("account_id", msg.AccountID).
				Str("url", url).
				Msg("webhook delivery failed")
			return
		}
		if n.Marker == nil {
			return
		}
		if err := n.Marker.MarkWebhookNotified(ctx, msg.ID, time.Now().UTC()); err != nil {
			n.Log.Error().Err(err).Int64("message_id", msg.ID).Msg("mark webhook notified")
		}
	}()
}

func (n *Notifier) post(ctx context.Context, url string, msg model.Message) error {
	body, err := json.Marshal(Event{
		Event:     EventMessageSent,
		Data:      msg,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}

// Wait blocks until in-flight notifications finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

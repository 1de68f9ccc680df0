package transport

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wagateway/internal/model"
)

var nonDigit = regexp.MustCompile(`\D`)

// NormalizePhone strips every non-digit character.
func NormalizePhone(phone string) string {
	return nonDigit.ReplaceAllString(phone, "")
}

// ValidPhone reports whether phone has 10 to 15 digits once normalized.
func ValidPhone(phone string) bool {
	n := len(NormalizePhone(phone))
	return n >= 10 && n <= 15
}

// Channel delivers one message over one route. Errors are ordinary delivery
// failures.
type Channel interface {
	Name() string
	Send(ctx context.Context, creds model.DeliveryCredentials, phone, content string) (providerID string, err error)
}

type Outcome struct {
	Delivered         bool
	Reason            string
	ProviderMessageID string
	Channel           string
}

// Sender is what the dispatch engine drives.
type Sender interface {
	Send(ctx context.Context, creds model.DeliveryCredentials, phone, content string) Outcome
}

// Router picks exactly one channel per call: the provider API when the
// account has a provider key, the personal session otherwise. It never
// retries and never returns an error.
type Router struct {
	API      Channel
	Personal Channel
	Timeout  time.Duration
	Log      zerolog.Logger
}

func (r *Router) pick(creds model.DeliveryCredentials) Channel {
	if creds.ProviderKey != "" {
		return r.API
	}
	return r.Personal
}

func (r *Router) Send(ctx context.Context, creds model.DeliveryCredentials, phone, content string) (out Outcome) {
	ch := r.pick(creds)
	if ch == nil {
		return Outcome{Reason: "no delivery channel configured"}
	}
	out.Channel = ch.Name()

	defer func() {
		if p := recover(); p != nil {
			r.Log.Error().Interface("panic", p).Str("channel", out.Channel).Msg("transport panicked")
			out = Outcome{Channel: ch.Name(), Reason: fmt.Sprintf("transport panic: %v", p)}
		}
	}()

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	id, err := ch.Send(ctx, creds, NormalizePhone(phone), content)
	if err != nil {
		r.Log.Warn().Err(err).Str("channel", out.Channel).Msg("delivery failed")
		out.Reason = err.Error()
		return out
	}
	out.Delivered = true
	out.ProviderMessageID = id
	return out
}

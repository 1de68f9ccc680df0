// internal/service/dispatch_service.go
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/wagateway/internal/errors"
	"github.com/unclebandit/wagateway/internal/metrics"
	"github.com/unclebandit/wagateway/internal/model"
	"github.com/unclebandit/wagateway/internal/quota"
	"github.com/unclebandit/wagateway/internal/repository"
	"github.com/unclebandit/wagateway/internal/transport"
)

// Notifier is the fire-and-forget webhook hook.
type Notifier interface {
	Notify(url string, msg model.Message)
}

type DispatchService struct {
	Accounts  repository.AccountRepositoryInterface
	Templates repository.TemplateRepositoryInterface
	Messages  repository.MessageRepositoryInterface
	Ledger    *quota.Ledger
	Transport transport.Sender
	Notifier  Notifier
	Renderer  Renderer
	Log       zerolog.Logger
	Now       func() time.Time
}

// SendRequest is one single-recipient send. Credential is set when the
// request was authenticated with an API key.
type SendRequest struct {
	AccountID    int64
	Credential   *model.Credential
	Phone        string
	Name         string
	Content      string
	TemplateID   *int64
	Variables    model.Bindings
	ScheduledFor *time.Time
	Method       model.Method
}

func (s *DispatchService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func quotaKeys(accountID int64, credentialID *int64) []quota.Key {
	keys := []quota.Key{quota.AccountKey(accountID)}
	if credentialID != nil {
		keys = append(keys, quota.CredentialKey(*credentialID))
	}
	return keys
}

// resolveContent renders the template when one is referenced and falls back
// to the literal content otherwise.
func (s *DispatchService) resolveContent(ctx context.Context, templateID *int64, content string, b model.Bindings) (string, error) {
	if templateID != nil {
		tmpl, err := s.Templates.GetByID(ctx, *templateID)
		if err != nil {
			return "", err
		}
		return s.Renderer.RenderTemplate(tmpl, b)
	}
	if content == "" {
		return "", appErrors.NewInvalidTemplate("message content or template is required")
	}
	return content, nil
}

// Send validates, reserves quota, delivers and records one message. A
// delivery failure is not an error: the returned message carries status
// failed. Quota and validation errors leave no message behind.
func (s *DispatchService) Send(ctx context.Context, req SendRequest) (*model.Message, error) {
	phone := transport.NormalizePhone(req.Phone)
	if !transport.ValidPhone(phone) {
		return nil, appErrors.NewInvalidRecipient(req.Phone)
	}

	account, err := s.Accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	content, err := s.resolveContent(ctx, req.TemplateID, req.Content, req.Variables)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = model.MethodPersonal
	}
	msg := &model.Message{
		AccountID:  account.ID,
		Recipient:  model.Recipient{Phone: phone, Name: req.Name},
		Content:    content,
		TemplateID: req.TemplateID,
		Variables:  req.Variables,
		Method:     method,
		Cost:       model.DefaultCost,
	}
	if req.Credential != nil {
		msg.CredentialID = &req.Credential.ID
	}

	if req.ScheduledFor != nil && req.ScheduledFor.After(s.now()) {
		at := req.ScheduledFor.UTC()
		msg.Status = model.StatusScheduled
		msg.ScheduledFor = &at
		if err := s.Messages.Create(ctx, msg); err != nil {
			return nil, appErrors.NewPersistence("create scheduled message", err)
		}
		metrics.IncMessage(string(msg.Method), string(msg.Status))
		return msg, nil
	}

	rs, err := s.Ledger.ReserveAll(ctx, msg.Cost, quotaKeys(account.ID, msg.CredentialID)...)
	if err != nil {
		return nil, err
	}

	msg.Status = model.StatusPending
	if err := s.Messages.Create(ctx, msg); err != nil {
		if rerr := s.Ledger.ReleaseAll(context.WithoutCancel(ctx), rs); rerr != nil {
			s.Log.Error().Err(rerr).Int64("account_id", account.ID).Msg("release after failed create")
		}
		return nil, appErrors.NewPersistence("create message", err)
	}

	if err := s.deliver(ctx, account, msg, rs); err != nil {
		return nil, err
	}
	return msg, nil
}

// DispatchScheduled sends a message the scheduler has moved to pending.
// Messages in any other status were already handled and are returned as is.
func (s *DispatchService) DispatchScheduled(ctx context.Context, id int64) (*model.Message, error) {
	msg, err := s.Messages.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Status != model.StatusPending {
		return msg, nil
	}

	account, err := s.Accounts.GetByID(ctx, msg.AccountID)
	if err != nil {
		return nil, err
	}
	if msg.Cost <= 0 {
		msg.Cost = model.DefaultCost
	}

	rs, err := s.Ledger.ReserveAll(ctx, msg.Cost, quotaKeys(account.ID, msg.CredentialID)...)
	if err != nil {
		var qe *appErrors.QuotaExceededError
		if !errors.As(err, &qe) {
			return nil, err
		}
		msg.MarkFailed("quota exceeded")
		if err := s.Messages.Finalize(ctx, msg, model.UsageDebit{AccountID: account.ID}); err != nil {
			return nil, appErrors.NewPersistence("record failed message", err)
		}
		metrics.IncMessage(string(msg.Method), string(msg.Status))
		s.notify(account, msg)
		return msg, nil
	}

	if err := s.deliver(ctx, account, msg, rs); err != nil {
		return nil, err
	}
	return msg, nil
}

// deliver runs the transport for a pending message holding rs and settles
// the reservation against the outcome.
func (s *DispatchService) deliver(ctx context.Context, account *model.Account, msg *model.Message, rs quota.Reservations) error {
	log := s.Log.With().Int64("account_id", account.ID).Int64("message_id", msg.ID).Logger()

	out := s.Transport.Send(ctx, account.Credentials(), msg.Recipient.Phone, msg.Content)

	// the outcome must be recorded even if the caller went away
	ctx = context.WithoutCancel(ctx)

	if out.Delivered {
		msg.MarkSent(s.now())
		debit := model.UsageDebit{AccountID: account.ID, CredentialID: msg.CredentialID, Units: msg.Cost}
		err := s.Ledger.CommitAll(ctx, rs, msg.Cost, func(ctx context.Context) error {
			return s.Messages.Finalize(ctx, msg, debit)
		})
		if err != nil {
			log.Error().Err(err).Str("channel", out.Channel).Msg("message delivered but not recorded")
			return appErrors.NewPersistence("record sent message", err)
		}
	} else {
		msg.MarkFailed(out.Reason)
		if err := s.Ledger.ReleaseAll(ctx, rs); err != nil {
			log.Error().Err(err).Msg("release after failed delivery")
		}
		if err := s.Messages.Finalize(ctx, msg, model.UsageDebit{AccountID: account.ID}); err != nil {
			log.Error().Err(err).Msg("failed delivery not recorded")
			return appErrors.NewPersistence("record failed message", err)
		}
	}

	metrics.IncMessage(string(msg.Method), string(msg.Status))
	s.notify(account, msg)
	return nil
}

func (s *DispatchService) notify(account *model.Account, msg *model.Message) {
	if s.Notifier == nil || account.WebhookURL == "" {
		return
	}
	s.Notifier.Notify(account.WebhookURL, *msg)
}

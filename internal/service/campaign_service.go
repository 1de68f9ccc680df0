// internal/service/campaign_service.go
package service

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog"

    appErrors "github.com/unclebandit/wagateway/internal/errors"
    "github.com/unclebandit/wagateway/internal/metrics"
    "github.com/unclebandit/wagateway/internal/model"
    "github.com/unclebandit/wagateway/internal/quota"
    "github.com/unclebandit/wagateway/internal/repository"
    "github.com/unclebandit/wagateway/internal/transport"
)

const reasonCancelled = "campaign cancelled"

// CampaignService sends one template to many contacts, one at a time.
type CampaignService struct {
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

// BulkRequest describes one campaign. Variables, when set, holds bindings
// per contact index; a contact's own Variables win over them. Message is the
// body used when there is no template and the contact carries none.
type BulkRequest struct {
    AccountID   int64
    Credential  *model.Credential
    Contacts    []model.Contact
    TemplateID  *int64
    Message     string
    Variables   []model.Bindings
    PacingDelay time.Duration
    Method      model.Method
}

func (s *CampaignService) now() time.Time {
    if s.Now != nil {
        return s.Now().UTC()
    }
    return time.Now().UTC()
}

// SendBulk rejects the whole batch up front when the daily or monthly quota
// cannot cover it. Otherwise every contact gets a result, and the sent count is
// charged once at the end. The returned result is non-nil whenever contacts
// were processed, even if the final usage commit failed.
func (s *CampaignService) SendBulk(ctx context.Context, req BulkRequest) (*model.CampaignResult, error) {
    n := len(req.Contacts)
    if n == 0 {
        return nil, appErrors.ErrNoContacts
    }

    account, err := s.Accounts.GetByID(ctx, req.AccountID)
    if err != nil {
        return nil, err
    }

    var tmpl *model.Template
    if req.TemplateID != nil {
        tmpl, err = s.Templates.GetByID(ctx, *req.TemplateID)
        if err != nil {
            return nil, err
        }
    }

    if remaining := account.RemainingToday(); n > remaining {
        metrics.IncQuotaRejection(quota.BucketDaily)
        return nil, appErrors.NewQuotaExceeded(quota.BucketDaily, remaining)
    }
    if remaining := account.RemainingThisMonth(); n > remaining {
        metrics.IncQuotaRejection(quota.BucketMonthly)
        s.Log.Info().Int64("account_id", account.ID).Int("contacts", n).Int("remaining", remaining).
            Msg("bulk send rejected by monthly quota")
        return nil, appErrors.NewQuotaExceeded(quota.BucketMonthly, remaining)
    }

    var credentialID *int64
    if req.Credential != nil {
        credentialID = &req.Credential.ID
    }
    rs, err := s.Ledger.ReserveAll(ctx, n, quotaKeys(account.ID, credentialID)...)
    if err != nil {
        return nil, err
    }

    method := req.Method
    if method == "" {
        method = model.MethodBulk
    }

    result := &model.CampaignResult{
        CampaignID: uuid.NewString(),
        Total:      n,
        Details:    make([]model.ContactResult, 0, n),
    }
    log := s.Log.With().Int64("account_id", account.ID).Str("campaign_id", result.CampaignID).Logger()

    for i, contact := range req.Contacts {
        if ctx.Err() != nil {
            result.Details = append(result.Details, model.ContactResult{
                Phone: contact.Phone, Status: model.ContactError, Error: reasonCancelled,
            })
            continue
        }

        res := s.sendContact(ctx, contactJob{
            account:      account,
            credentialID: credentialID,
            template:     tmpl,
            campaignID:   result.CampaignID,
            method:       method,
            contact:      contact,
            bindings:     bindingsFor(req.Variables, i).Merge(contact.Variables),
            fallback:     req.Message,
        })
        if res.Status == model.ContactError {
            log.Warn().Str("phone", contact.Phone).Str("error", res.Error).Msg("contact skipped")
        }
        if res.Status == model.ContactSent {
            result.Sent++
        }
        result.Details = append(result.Details, res)

        if i < n-1 {
            pause(ctx, req.PacingDelay)
        }
    }
    result.Failed = result.Total - result.Sent

    // usage is charged even when the caller cancelled mid-batch
    commitCtx := context.WithoutCancel(ctx)
    debit := model.UsageDebit{AccountID: account.ID, CredentialID: credentialID, Units: result.Sent}
    err = s.Ledger.CommitAll(commitCtx, rs, result.Sent, func(ctx context.Context) error {
        return s.Accounts.ApplyUsage(ctx, debit)
    })
    if err != nil {
        log.Error().Err(err).Int("sent", result.Sent).Msg("campaign usage not recorded")
        return result, appErrors.NewPersistence("commit campaign usage", err)
    }

    log.Info().Int("total", result.Total).Int("sent", result.Sent).Msg("campaign completed")
    return result, nil
}

func bindingsFor(perIndex []model.Bindings, i int) model.Bindings {
    if i < len(perIndex) {
        return perIndex[i]
    }
    return nil
}

// pause waits d or until ctx is done, without blocking other goroutines.
func pause(ctx context.Context, d time.Duration) {
    if d <= 0 {
        return
    }
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
    case <-t.C:
    }
}

type contactJob struct {
    account      *model.Account
    credentialID *int64
    template     *model.Template
    campaignID   string
    method       model.Method
    contact      model.Contact
    bindings     model.Bindings
    fallback     string
}

// sendContact never panics and never returns an error: anything unexpected
// becomes an error result for that contact alone.
func (s *CampaignService) sendContact(ctx context.Context, job contactJob) (res model.ContactResult) {
    res.Phone = job.contact.Phone
    defer func() {
        if p := recover(); p != nil {
            res.Status = model.ContactError
            res.Error = fmt.Sprintf("unexpected error: %v", p)
        }
    }()

    phone := transport.NormalizePhone(job.contact.Phone)
    if !transport.ValidPhone(phone) {
        res.Status = model.ContactError
        res.Error = appErrors.NewInvalidRecipient(job.contact.Phone).Error()
        return res
    }

    content, err := s.contentFor(job)
    if err != nil {
        res.Status = model.ContactError
        res.Error = err.Error()
        return res
    }

    msg := &model.Message{
        AccountID:    job.account.ID,
        CredentialID: job.credentialID,
        Recipient:    model.Recipient{Phone: phone, Name: job.contact.Name},
        Content:      content,
        Variables:    job.bindings,
        Method:       job.method,
        Status:       model.StatusPending,
        Cost:         model.DefaultCost,
        CampaignID:   job.campaignID,
    }
    if job.template != nil {
        msg.TemplateID = &job.template.ID
    }
    if err := s.Messages.Create(ctx, msg); err != nil {
        res.Status = model.ContactError
        res.Error = appErrors.NewPersistence("create message", err).Error()
        return res
    }
    res.MessageID = msg.ID

    out := s.Transport.Send(ctx, job.account.Credentials(), phone, content)
    if out.Delivered {
        msg.MarkSent(s.now())
    } else {
        msg.MarkFailed(out.Reason)
    }

    // usage is charged for the whole campaign afterwards
    if err := s.Messages.Finalize(context.WithoutCancel(ctx), msg, model.UsageDebit{AccountID: job.account.ID}); err != nil {
        res.Status = model.ContactError
        res.Error = appErrors.NewPersistence("record message", err).Error()
        return res
    }

    metrics.IncMessage(string(msg.Method), string(msg.Status))
    if s.Notifier != nil && job.account.WebhookURL != "" {
        s.Notifier.Notify(job.account.WebhookURL, *msg)
    }

    if out.Delivered {
        res.Status = model.ContactSent
    } else {
        res.Status = model.ContactFailed
        res.Error = out.Reason
    }
    return res
}

func (s *CampaignService) contentFor(job contactJob) (string, error) {
    if job.template != nil {
        return s.Renderer.RenderTemplate(job.template, job.bindings)
    }
    body := job.contact.Message
    if body == "" {
        body = job.fallback
    }
    if body == "" {
        return "", errors.New("contact has no message and campaign has no template")
    }
    return body, nil
}

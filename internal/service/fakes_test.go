package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/wagateway/internal/errors"
	"github.com/unclebandit/wagateway/internal/logger"
	"github.com/unclebandit/wagateway/internal/model"
	"github.com/unclebandit/wagateway/internal/quota"
	"github.com/unclebandit/wagateway/internal/service"
	"github.com/unclebandit/wagateway/internal/transport"
)

// store is an in-memory stand-in for Postgres shared by the fake
// repositories, so a message update and its usage debit apply together.
type store struct {
	mu          sync.Mutex
	accounts    map[int64]*model.Account
	credentials map[int64]*model.Credential
	templates   map[int64]*model.Template
	messages    map[int64]*model.Message
	nextID      int64

	createErr   error
	finalizeErr error
	applyErr    error
}

func newStore() *store {
	return &store{
		accounts:    map[int64]*model.Account{},
		credentials: map[int64]*model.Credential{},
		templates:   map[int64]*model.Template{},
		messages:    map[int64]*model.Message{},
	}
}

func (s *store) account(id int64) model.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.accounts[id]
}

func (s *store) credential(id int64) model.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.credentials[id]
}

func (s *store) allMessages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// debit mirrors the conditional SQL update; callers hold s.mu.
func (s *store) debit(d model.UsageDebit) error {
	if d.Units <= 0 {
		return nil
	}
	a, ok := s.accounts[d.AccountID]
	if !ok || a.UsedToday+d.Units > a.DailyLimit || a.UsedThisMonth+d.Units > a.MonthlyLimit {
		return appErrors.ErrQuotaConflict
	}
	var c *model.Credential
	if d.CredentialID != nil {
		c, ok = s.credentials[*d.CredentialID]
		if !ok || c.QuotaUsed+d.Units > c.QuotaLimit {
			return appErrors.ErrQuotaConflict
		}
	}
	a.UsedToday += d.Units
	a.UsedThisMonth += d.Units
	if c != nil {
		c.QuotaUsed += d.Units
		now := time.Now()
		c.LastUsedAt = &now
	}
	return nil
}

type fakeAccounts struct{ s *store }

func (f fakeAccounts) GetByID(_ context.Context, id int64) (*model.Account, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	a, ok := f.s.accounts[id]
	if !ok {
		return nil, appErrors.NewAccountNotFound(id)
	}
	cp := *a
	return &cp, nil
}

func (f fakeAccounts) ApplyUsage(_ context.Context, d model.UsageDebit) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.applyErr != nil {
		return f.s.applyErr
	}
	return f.s.debit(d)
}

func (f fakeAccounts) ResetDaily(context.Context) (int64, error)   { return 0, nil }
func (f fakeAccounts) ResetMonthly(context.Context) (int64, error) { return 0, nil }

type fakeCredentials struct{ s *store }

func (f fakeCredentials) GetByID(_ context.Context, id int64) (*model.Credential, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	c, ok := f.s.credentials[id]
	if !ok {
		return nil, appErrors.ErrInvalidCredential
	}
	cp := *c
	return &cp, nil
}

type fakeTemplates struct{ s *store }

func (f fakeTemplates) GetByID(_ context.Context, id int64) (*model.Template, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	t, ok := f.s.templates[id]
	if !ok {
		return nil, appErrors.NewTemplateNotFound(id)
	}
	cp := *t
	return &cp, nil
}

type fakeMessages struct{ s *store }

func (f fakeMessages) Create(_ context.Context, m *model.Message) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.createErr != nil {
		return f.s.createErr
	}
	f.s.nextID++
	m.ID = f.s.nextID
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	f.s.messages[m.ID] = &cp
	return nil
}

func (f fakeMessages) GetByID(_ context.Context, id int64) (*model.Message, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	m, ok := f.s.messages[id]
	if !ok {
		return nil, appErrors.NewMessageNotFound(id)
	}
	cp := *m
	return &cp, nil
}

func (f fakeMessages) GetForAccount(ctx context.Context, accountID, id int64) (*model.Message, error) {
	m, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.AccountID != accountID {
		return nil, appErrors.NewMessageNotFound(id)
	}
	return m, nil
}

func (f fakeMessages) Finalize(_ context.Context, m *model.Message, d model.UsageDebit) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.finalizeErr != nil {
		return f.s.finalizeErr
	}
	stored, ok := f.s.messages[m.ID]
	if !ok {
		return appErrors.NewMessageNotFound(m.ID)
	}
	if err := f.s.debit(d); err != nil {
		return err
	}
	stored.Status = m.Status
	stored.SentAt = m.SentAt
	stored.FailureReason = m.FailureReason
	stored.Content = m.Content
	return nil
}

func (f fakeMessages) MarkWebhookNotified(_ context.Context, id int64, at time.Time) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if m, ok := f.s.messages[id]; ok {
		m.WebhookNotified = true
		m.WebhookNotifiedAt = &at
	}
	return nil
}

func (f fakeMessages) List(_ context.Context, flt model.MessageFilter, offset, limit int) ([]*model.Message, int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var all []*model.Message
	for _, m := range f.s.messages {
		if m.AccountID != flt.AccountID {
			continue
		}
		if flt.Status != "" && m.Status != flt.Status {
			continue
		}
		cp := *m
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if offset >= len(all) {
		return []*model.Message{}, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (f fakeMessages) CountByStatus(_ context.Context, accountID int64, since time.Time) ([]model.StatusCount, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	counts := map[model.MessageStatus]int{}
	for _, m := range f.s.messages {
		if m.AccountID == accountID && !m.CreatedAt.Before(since) {
			counts[m.Status]++
		}
	}
	var out []model.StatusCount
	for st, n := range counts {
		out = append(out, model.StatusCount{Status: st, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (f fakeMessages) ClaimDueScheduled(_ context.Context, now time.Time, limit int) ([]int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var ids []int64
	for id, m := range f.s.messages {
		if m.Status == model.StatusScheduled && m.ScheduledFor != nil && !m.ScheduledFor.After(now) {
			m.Status = model.StatusPending
			m.UpdatedAt = now
			ids = append(ids, id)
		}
		if len(ids) == limit {
			break
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f fakeMessages) RequeueScheduled(_ context.Context, ids []int64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, id := range ids {
		if m, ok := f.s.messages[id]; ok && m.Status == model.StatusPending {
			m.Status = model.StatusScheduled
		}
	}
	return nil
}

func (f fakeMessages) FailStaleScheduled(_ context.Context, cutoff time.Time, reason string) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var n int64
	for _, m := range f.s.messages {
		if m.Status == model.StatusPending && m.ScheduledFor != nil && m.UpdatedAt.Before(cutoff) {
			m.MarkFailed(reason)
			n++
		}
	}
	return n, nil
}

func (f fakeMessages) ApplyReceipt(_ context.Context, id int64, from, to model.MessageStatus, at time.Time) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	m, ok := f.s.messages[id]
	if !ok || m.Status != from {
		return false, nil
	}
	m.Status = to
	if to == model.StatusDelivered {
		m.DeliveredAt = &at
	} else {
		m.ReadAt = &at
	}
	return true, nil
}

// fakeSender fails phones listed in fail and counts calls.
type fakeSender struct {
	mu    sync.Mutex
	fail  map[string]string
	calls []string
	hook  func(phone string)
}

func (f *fakeSender) Send(_ context.Context, _ model.DeliveryCredentials, phone, _ string) transport.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, phone)
	hook := f.hook
	reason, failed := f.fail[phone]
	f.mu.Unlock()
	if hook != nil {
		hook(phone)
	}
	if failed {
		return transport.Outcome{Channel: "api", Reason: reason}
	}
	return transport.Outcome{Delivered: true, Channel: "api", ProviderMessageID: "wamid." + phone}
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []model.Message
	urls []string
}

func (f *fakeNotifier) Notify(url string, msg model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	f.sent = append(f.sent, msg)
}

type harness struct {
	store    *store
	sender   *fakeSender
	notifier *fakeNotifier
	ledger   *quota.Ledger
	dispatch *service.DispatchService
	campaign *service.CampaignService
	history  *service.HistoryService
}

var fixedNow = time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC)

func newHarness() *harness {
	s := newStore()
	h := &harness{
		store:    s,
		sender:   &fakeSender{fail: map[string]string{}},
		notifier: &fakeNotifier{},
	}
	h.ledger = quota.NewLedger(
		quota.NewMemoryBackend(),
		quota.StoreLoader{Accounts: fakeAccounts{s}, Credentials: fakeCredentials{s}},
		logger.Nop(),
	)
	now := func() time.Time { return fixedNow }
	h.dispatch = &service.DispatchService{
		Accounts:  fakeAccounts{s},
		Templates: fakeTemplates{s},
		Messages:  fakeMessages{s},
		Ledger:    h.ledger,
		Transport: h.sender,
		Notifier:  h.notifier,
		Log:       logger.Nop(),
		Now:       now,
	}
	h.campaign = &service.CampaignService{
		Accounts:  fakeAccounts{s},
		Templates: fakeTemplates{s},
		Messages:  fakeMessages{s},
		Ledger:    h.ledger,
		Transport: h.sender,
		Notifier:  h.notifier,
		Log:       logger.Nop(),
		Now:       now,
	}
	h.history = &service.HistoryService{Messages: fakeMessages{s}, Now: now}
	return h
}

func (h *harness) addAccount(a model.Account) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if a.MonthlyLimit == 0 {
		a.MonthlyLimit = 10000
	}
	h.store.accounts[a.ID] = &a
}

func (h *harness) addCredential(c model.Credential) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.credentials[c.ID] = &c
}

func (h *harness) addTemplate(t model.Template) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.templates[t.ID] = &t
}

var errDBDown = errors.New("db down")

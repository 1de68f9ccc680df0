package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wagateway/internal/controller"
	appErrors "github.com/unclebandit/wagateway/internal/errors"
	"github.com/unclebandit/wagateway/internal/logger"
	"github.com/unclebandit/wagateway/internal/model"
	"github.com/unclebandit/wagateway/internal/service"
)

type stubDispatch struct {
	got service.SendRequest
	msg *model.Message
	err error
}

func (s *stubDispatch) Send(_ context.Context, req service.SendRequest) (*model.Message, error) {
	s.got = req
	return s.msg, s.err
}

type stubBulk struct {
	got service.BulkRequest
	res *model.CampaignResult
	err error
}

func (s *stubBulk) SendBulk(_ context.Context, req service.BulkRequest) (*model.CampaignResult, error) {
	s.got = req
	return s.res, s.err
}

type stubHistory struct {
	query  service.HistoryQuery
	period string
	msg    *model.Message
	err    error
}

func (s *stubHistory) GetHistory(_ context.Context, q service.HistoryQuery) ([]*model.Message, service.Pagination, error) {
	s.query = q
	return []*model.Message{}, service.Pagination{CurrentPage: 1, PageSize: 20}, s.err
}

func (s *stubHistory) GetStats(_ context.Context, _ int64, period string) (*service.Stats, error) {
	s.period = period
	if s.err != nil {
		return nil, s.err
	}
	return &service.Stats{Period: period, Total: 3}, nil
}

func (s *stubHistory) GetMessage(_ context.Context, accountID, id int64) (*model.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.msg == nil || s.msg.AccountID != accountID || s.msg.ID != id {
		return nil, appErrors.NewMessageNotFound(id)
	}
	return s.msg, nil
}

type stubCreds map[string]*model.Credential

func (s stubCreds) FindActiveByKey(_ context.Context, key string) (*model.Credential, error) {
	c, ok := s[key]
	if !ok {
		return nil, appErrors.ErrInvalidCredential
	}
	return c, nil
}

type fixture struct {
	dispatch *stubDispatch
	bulk     *stubBulk
	history  *stubHistory
	router   http.Handler
}

func newFixture(creds stubCreds) *fixture {
	f := &fixture{
		dispatch: &stubDispatch{msg: &model.Message{ID: 42, Status: model.StatusSent, Recipient: model.Recipient{Phone: "15551234567"}}},
		bulk:     &stubBulk{res: &model.CampaignResult{CampaignID: "c-1", Total: 1, Sent: 1}},
		history:  &stubHistory{},
	}
	ctrl := &controller.MessageController{
		Dispatch:     f.dispatch,
		Campaigns:    f.bulk,
		History:      f.history,
		DefaultDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Log:          logger.Nop(),
	}
	r := chi.NewRouter()
	r.Route("/messages", func(r chi.Router) {
		r.Use(controller.RequireAccount)
		ctrl.Routes(r)
	})
	r.Route("/v1/messages", func(r chi.Router) {
		r.Use(controller.CredentialAuth(creds, logger.Nop(), nil))
		ctrl.APIRoutes(r)
	})
	f.router = r
	return f
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:5555"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

var account1 = map[string]string{controller.HeaderAccountID: "1"}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSendSingle_Account(t *testing.T) {
	f := newFixture(nil)
	w := do(t, f.router, http.MethodPost, "/messages/send", map[string]any{
		"phone": "+1 (555) 123-4567", "message": "Hello",
	}, account1)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(42), body["message_id"])
	assert.Equal(t, "sent", body["status"])

	assert.Equal(t, int64(1), f.dispatch.got.AccountID)
	assert.Equal(t, model.MethodPersonal, f.dispatch.got.Method)
	assert.Nil(t, f.dispatch.got.Credential)
}

func TestSendSingle_RequiresAccount(t *testing.T) {
	f := newFixture(nil)
	w := do(t, f.router, http.MethodPost, "/messages/send", map[string]any{"phone": "15551234567", "message": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSendSingle_ValidationErrors(t *testing.T) {
	f := newFixture(nil)
	w := do(t, f.router, http.MethodPost, "/messages/send", map[string]any{"phone": "12-34"}, account1)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "validation_failed", body["error"])
	fields := body["fields"].(map[string]any)
	assert.Equal(t, "phone", fields["phone"])
	assert.Equal(t, "required_without", fields["message"])
}

func TestSendSingle_TemplateWithoutMessageIsValid(t *testing.T) {
	f := newFixture(nil)
	w := do(t, f.router, http.MethodPost, "/messages/send", map[string]any{
		"phone": "15551234567", "template_id": 3, "variables": map[string]string{"name": "Ana"},
	}, account1)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.dispatch.got.TemplateID)
	assert.Equal(t, int64(3), *f.dispatch.got.TemplateID)
	assert.Equal(t, "Ana", f.dispatch.got.Variables["name"])
}

func TestSendSingle_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"quota", appErrors.NewQuotaExceeded("daily", 0), http.StatusTooManyRequests},
		{"template", appErrors.NewTemplateNotFound(3), http.StatusNotFound},
		{"account", appErrors.NewAccountNotFound(1), http.StatusNotFound},
		{"recipient", appErrors.NewInvalidRecipient("1"), http.StatusBadRequest},
		{"persistence", appErrors.NewPersistence("create message", errors.New("db down")), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			f.dispatch.err = tt.err
			w := do(t, f.router, http.MethodPost, "/messages/send", map[string]any{"phone": "15551234567", "message": "x"}, account1)
			assert.Equal(t, tt.code, w.Code)
			assert.NotContains(t, w.Body.String(), "db down")
		})
	}
}

func TestSendSingle_QuotaBodyCarriesAvailable(t *testing.T) {
	f := newFixture(nil)
	f.dispatch.err = appErrors.NewQuotaExceeded("daily", 0)
	w := do(t, f.router, http.MethodPost, "/messages/send", map[string]any{"phone": "15551234567", "message": "x"}, account1)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(0), body["available"])
}

func TestSendSingle_FailedDeliveryIsNotAnHTTPError(t *testing.T) {
	f := newFixture(nil)
	f.dispatch.msg = &model.Message{ID: 7, Status: model.StatusFailed, FailureReason: "timeout"}
	w := do(t, f.router, http.MethodPost, "/messages/send", map[string]any{"phone": "15551234567", "message": "x"}, account1)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "timeout", body["error"])
}

func TestSendBulk_DelayDefaultsAndCap(t *testing.T) {
	f := newFixture(nil)
	contacts := []map[string]string{{"phone": "15551234567"}}

	w := do(t, f.router, http.MethodPost, "/messages/bulk", map[string]any{"contacts": contacts, "message": "x"}, account1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Second, f.bulk.got.PacingDelay)
	assert.Equal(t, model.MethodBulk, f.bulk.got.Method)

	w = do(t, f.router, http.MethodPost, "/messages/bulk", map[string]any{"contacts": contacts, "message": "x", "delay": 0}, account1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Duration(0), f.bulk.got.PacingDelay)

	w = do(t, f.router, http.MethodPost, "/messages/bulk", map[string]any{"contacts": contacts, "message": "x", "delay": 600000}, account1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5*time.Second, f.bulk.got.PacingDelay)

	body := decode(t, w)
	assert.Equal(t, "c-1", body["campaign_id"])
}

func TestSendBulk_EmptyPhoneIsPerContact(t *testing.T) {
	f := newFixture(nil)
	f.bulk.res = &model.CampaignResult{
		CampaignID: "c-2", Total: 3, Sent: 2, Failed: 1,
		Details: []model.ContactResult{
			{Phone: "15551234567", Status: model.ContactSent, MessageID: 1},
			{Phone: "", Status: model.ContactError, Error: "invalid recipient"},
			{Phone: "15551234568", Status: model.ContactSent, MessageID: 2},
		},
	}
	contacts := []map[string]string{{"phone": "15551234567"}, {"phone": ""}, {"phone": "15551234568"}}

	w := do(t, f.router, http.MethodPost, "/messages/bulk", map[string]any{"contacts": contacts, "message": "x"}, account1)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.bulk.got.Contacts, 3)
	assert.Equal(t, "", f.bulk.got.Contacts[1].Phone)

	body := decode(t, w)
	assert.Equal(t, float64(1), body["failed"])
	details := body["details"].([]any)
	assert.Equal(t, model.ContactError, details[1].(map[string]any)["status"])
}

func TestSendBulk_EmptyContacts(t *testing.T) {
	f := newFixture(nil)
	w := do(t, f.router, http.MethodPost, "/messages/bulk", map[string]any{"contacts": []any{}, "message": "x"}, account1)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", decode(t, w)["error"])
}

func TestListHistory_ParsesQuery(t *testing.T) {
	f := newFixture(nil)
	w := do(t, f.router, http.MethodGet, "/messages?page=2&limit=50&status=failed&date_from=2026-05-01T00:00:00Z", nil, account1)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, f.history.query.Page)
	assert.Equal(t, 50, f.history.query.Limit)
	assert.Equal(t, model.StatusFailed, f.history.query.Status)
	require.NotNil(t, f.history.query.From)
	assert.Nil(t, f.history.query.To)

	w = do(t, f.router, http.MethodGet, "/messages?status=bogus", nil, account1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, f.router, http.MethodGet, "/messages?date_to=yesterday", nil, account1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStats(t *testing.T) {
	f := newFixture(nil)
	w := do(t, f.router, http.MethodGet, "/messages/stats?period=weekly", nil, account1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "weekly", f.history.period)

	f.history.err = appErrors.ErrInvalidPeriod
	w = do(t, f.router, http.MethodGet, "/messages/stats?period=yearly", nil, account1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetStatus_ScopedToAccount(t *testing.T) {
	f := newFixture(nil)
	f.history.msg = &model.Message{ID: 9, AccountID: 1, Status: model.StatusDelivered, Recipient: model.Recipient{Phone: "15551234567"}}

	w := do(t, f.router, http.MethodGet, "/messages/9", nil, account1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "delivered", decode(t, w)["status"])

	w = do(t, f.router, http.MethodGet, "/messages/9", nil, map[string]string{controller.HeaderAccountID: "2"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, f.router, http.MethodGet, "/messages/abc", nil, account1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCredentialAuth(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	creds := stubCreds{
		"good":    {ID: 1, AccountID: 5, QuotaLimit: 10, IsActive: true},
		"expired": {ID: 2, AccountID: 5, QuotaLimit: 10, IsActive: true, ExpiresAt: &past},
		"locked":  {ID: 3, AccountID: 5, QuotaLimit: 10, IsActive: true, IPWhitelist: []string{"192.168.1.1"}},
		"allowed": {ID: 4, AccountID: 5, QuotaLimit: 10, IsActive: true, IPWhitelist: []string{"10.0.0.1"}},
		"spent":   {ID: 5, AccountID: 5, QuotaLimit: 10, QuotaUsed: 10, IsActive: true},
	}
	body := map[string]any{"phone": "15551234567", "message": "x"}

	tests := []struct {
		key  string
		code int
	}{
		{"", http.StatusUnauthorized},
		{"unknown", http.StatusUnauthorized},
		{"expired", http.StatusUnauthorized},
		{"locked", http.StatusForbidden},
		{"spent", http.StatusTooManyRequests},
		{"allowed", http.StatusCreated},
		{"good", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run("key="+tt.key, func(t *testing.T) {
			f := newFixture(creds)
			headers := map[string]string{}
			if tt.key != "" {
				headers[controller.HeaderAPIKey] = tt.key
			}
			w := do(t, f.router, http.MethodPost, "/v1/messages/send", body, headers)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.code == http.StatusCreated {
				assert.Equal(t, int64(5), f.dispatch.got.AccountID)
				assert.Equal(t, model.MethodAPI, f.dispatch.got.Method)
				require.NotNil(t, f.dispatch.got.Credential)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	limiter := controller.NewIPRateLimiter(1, 2)
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, h, http.MethodGet, "/", nil, nil).Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	// another client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/", strings.NewReader(""))
	req.RemoteAddr = "10.0.0.2:1"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

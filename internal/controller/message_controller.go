// internal/controller/message_controller.go
package controller

import (
    "context"
    "net/http"
    "strconv"
    "time"

    "github.com/go-chi/chi/v5"
    "github.com/rs/zerolog"

    "github.com/unclebandit/wagateway/internal/model"
    "github.com/unclebandit/wagateway/internal/service"
)

type Dispatcher interface {
    Send(ctx context.Context, req service.SendRequest) (*model.Message, error)
}

type BulkSender interface {
    SendBulk(ctx context.Context, req service.BulkRequest) (*model.CampaignResult, error)
}

type HistoryReader interface {
    GetHistory(ctx context.Context, q service.HistoryQuery) ([]*model.Message, service.Pagination, error)
    GetStats(ctx context.Context, accountID int64, period string) (*service.Stats, error)
    GetMessage(ctx context.Context, accountID, id int64) (*model.Message, error)
}

type MessageController struct {
    Dispatch     Dispatcher
    Campaigns    BulkSender
    History      HistoryReader
    DefaultDelay time.Duration
    MaxDelay     time.Duration
    Log          zerolog.Logger
}

type sendBody struct {
    Phone        string         `json:"phone" validate:"required,phone"`
    Name         string         `json:"name"`
    Message      string         `json:"message" validate:"required_without=TemplateID"`
    TemplateID   *int64         `json:"template_id" validate:"omitempty,gt=0"`
    Variables    model.Bindings `json:"variables"`
    ScheduledFor *time.Time     `json:"scheduled_for"`
}

type bulkBody struct {
    Contacts   []model.Contact  `json:"contacts" validate:"required,min=1,dive"`
    TemplateID *int64           `json:"template_id" validate:"omitempty,gt=0"`
    Message    string           `json:"message"`
    Variables  []model.Bindings `json:"variables"`
    // Delay between contacts in milliseconds.
    Delay *int `json:"delay" validate:"omitempty,min=0"`
}

// Routes mounts the account endpoints. The caller wraps them in RequireAccount.
func (c *MessageController) Routes(r chi.Router) {
    r.Post("/send", c.SendSingle)
    r.Post("/bulk", c.SendBulk)
    r.Get("/", c.ListHistory)
    r.Get("/stats", c.Stats)
    r.Get("/{id}", c.GetStatus)
}

// APIRoutes mounts the credential endpoints. The caller wraps them in
// CredentialAuth.
func (c *MessageController) APIRoutes(r chi.Router) {
    r.Post("/send", c.SendSingle)
    r.Post("/bulk", c.SendBulk)
    r.Get("/{id}", c.GetStatus)
}

func (c *MessageController) SendSingle(w http.ResponseWriter, r *http.Request) {
    accountID, _ := AccountID(r.Context())
    var body sendBody
    if !decodeAndValidate(w, r, &body) {
        return
    }

    req := service.SendRequest{
        AccountID:    accountID,
        Phone:        body.Phone,
        Name:         body.Name,
        Content:      body.Message,
        TemplateID:   body.TemplateID,
        Variables:    body.Variables,
        ScheduledFor: body.ScheduledFor,
        Method:       model.MethodPersonal,
    }
    status := http.StatusOK
    if cred := CredentialFrom(r.Context()); cred != nil {
        req.Credential = cred
        req.Method = model.MethodAPI
        status = http.StatusCreated
    }

    msg, err := c.Dispatch.Send(r.Context(), req)
    if err != nil {
        WriteError(w, c.Log, err)
        return
    }

    writeJSON(w, status, map[string]any{
        "message_id": msg.ID,
        "status":     msg.Status,
        "phone":      msg.Recipient.Phone,
        "sent_at":    msg.SentAt,
        "error":      msg.FailureReason,
    })
}

func (c *MessageController) SendBulk(w http.ResponseWriter, r *http.Request) {
    accountID, _ := AccountID(r.Context())
    var body bulkBody
    if !decodeAndValidate(w, r, &body) {
        return
    }

    delay := c.DefaultDelay
    if body.Delay != nil {
        delay = time.Duration(*body.Delay) * time.Millisecond
    }
    if c.MaxDelay > 0 && delay > c.MaxDelay {
        delay = c.MaxDelay
    }

    req := service.BulkRequest{
        AccountID:   accountID,
        Contacts:    body.Contacts,
        TemplateID:  body.TemplateID,
        Message:     body.Message,
        Variables:   body.Variables,
        PacingDelay: delay,
        Method:      model.MethodBulk,
    }
    status := http.StatusOK
    if cred := CredentialFrom(r.Context()); cred != nil {
        req.Credential = cred
        req.Method = model.MethodAPI
        status = http.StatusCreated
    }

    result, err := c.Campaigns.SendBulk(r.Context(), req)
    if err != nil {
        if result != nil {
            // contacts were processed; usage was not recorded
            c.Log.Error().Err(err).Str("campaign_id", result.CampaignID).Msg("bulk send finished with error")
        }
        WriteError(w, c.Log, err)
        return
    }
    writeJSON(w, status, result)
}

func (c *MessageController) ListHistory(w http.ResponseWriter, r *http.Request) {
    accountID, _ := AccountID(r.Context())
    qs := r.URL.Query()

    page, _ := strconv.Atoi(qs.Get("page"))
    limit, _ := strconv.Atoi(qs.Get("limit"))
    q := service.HistoryQuery{AccountID: accountID, Page: page, Limit: limit}

    if s := qs.Get("status"); s != "" {
        st := model.MessageStatus(s)
        if !st.Valid() {
            writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "unknown status " + s})
            return
        }
        q.Status = st
    }
    for name, dst := range map[string]**time.Time{"date_from": &q.From, "date_to": &q.To} {
        v := qs.Get(name)
        if v == "" {
            continue
        }
        t, err := time.Parse(time.RFC3339, v)
        if err != nil {
            writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: name + " must be RFC3339"})
            return
        }
        *dst = &t
    }

    messages, pagination, err := c.History.GetHistory(r.Context(), q)
    if err != nil {
        WriteError(w, c.Log, err)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "data":       messages,
        "pagination": pagination,
    })
}

func (c *MessageController) Stats(w http.ResponseWriter, r *http.Request) {
    accountID, _ := AccountID(r.Context())
    stats, err := c.History.GetStats(r.Context(), accountID, r.URL.Query().Get("period"))
    if err != nil {
        WriteError(w, c.Log, err)
        return
    }
    writeJSON(w, http.StatusOK, stats)
}

func (c *MessageController) GetStatus(w http.ResponseWriter, r *http.Request) {
    accountID, _ := AccountID(r.Context())
    id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
    if err != nil || id <= 0 {
        writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "invalid message id"})
        return
    }

    msg, err := c.History.GetMessage(r.Context(), accountID, id)
    if err != nil {
        WriteError(w, c.Log, err)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "id":           msg.ID,
        "phone":        msg.Recipient.Phone,
        "status":       msg.Status,
        "sent_at":      msg.SentAt,
        "delivered_at": msg.DeliveredAt,
        "read_at":      msg.ReadAt,
    })
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wagateway/internal/controller"
	"github.com/unclebandit/wagateway/internal/model"
)

type ReceiptApplier interface {
	ApplyReceipt(ctx context.Context, id int64, to model.MessageStatus, at time.Time) (*model.Message, error)
}

// ReceiptHandler takes delivery receipts posted back by the provider
type ReceiptHandler struct {
	Receipts ReceiptApplier
	Log      zerolog.Logger
}

type receiptPayload struct {
	MessageID int64               `json:"message_id"`
	Status    model.MessageStatus `json:"status"`
	At        time.Time           `json:"at"`
}

// HandleReceipt moves a sent message to delivered or read.
func (h *ReceiptHandler) HandleReceipt(w http.ResponseWriter, r *http.Request) {
	var p receiptPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if p.MessageID <= 0 || (p.Status != model.StatusDelivered && p.Status != model.StatusRead) {
		http.Error(w, "message_id and status (delivered|read) are required", http.StatusBadRequest)
		return
	}

	msg, err := h.Receipts.ApplyReceipt(r.Context(), p.MessageID, p.Status, p.At)
	if err != nil {
		h.Log.Warn().Err(err).Int64("message_id", p.MessageID).Str("status", string(p.Status)).Msg("receipt rejected")
		controller.WriteError(w, h.Log, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":           msg.ID,
		"status":       msg.Status,
		"delivered_at": msg.DeliveredAt,
		"read_at":      msg.ReadAt,
	})
}

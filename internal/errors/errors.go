// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredential = errors.New("invalid api key")
	ErrCredentialExpired = errors.New("api key expired")
	ErrIPNotAllowed      = errors.New("ip not whitelisted")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrQuotaConflict is returned by the store when a conditional usage
	// update would push a counter past its limit.
	ErrQuotaConflict = errors.New("quota counter conflict")
	ErrNoContacts    = errors.New("contacts must not be empty")
	ErrInvalidPeriod = errors.New("period must be daily, weekly or monthly")
)

// QuotaExceededError reports the remaining units of the exhausted scope.
type QuotaExceededError struct {
	Scope     string
	Remaining int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded, available: %d", e.Scope, e.Remaining)
}

func NewQuotaExceeded(scope string, remaining int) error {
	if remaining < 0 {
		remaining = 0
	}
	return &QuotaExceededError{Scope: scope, Remaining: remaining}
}

type TemplateNotFoundError struct {
	TemplateID int64
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template with ID %d not found", e.TemplateID)
}

func NewTemplateNotFound(id int64) error {
	return &TemplateNotFoundError{TemplateID: id}
}

type AccountNotFoundError struct {
	AccountID int64
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account with ID %d not found", e.AccountID)
}

func NewAccountNotFound(id int64) error {
	return &AccountNotFoundError{AccountID: id}
}

type MessageNotFoundError struct {
	MessageID int64
}

func (e *MessageNotFoundError) Error() string {
	return fmt.Sprintf("message with ID %d not found", e.MessageID)
}

func NewMessageNotFound(id int64) error {
	return &MessageNotFoundError{MessageID: id}
}

type InvalidRecipientError struct {
	Phone string
}

func (e *InvalidRecipientError) Error() string {
	return fmt.Sprintf("invalid recipient phone %q: expected 10-15 digits", e.Phone)
}

func NewInvalidRecipient(phone string) error {
	return &InvalidRecipientError{Phone: phone}
}

type InvalidTemplateError struct {
	Reason string
}

func (e *InvalidTemplateError) Error() string {
	return "invalid template: " + e.Reason
}

func NewInvalidTemplate(reason string) error {
	return &InvalidTemplateError{Reason: reason}
}

// PersistenceError means a durable write failed mid-operation. It is a server
// error and is never reported as a delivery failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func NewPersistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"fmt"
	"time"
)

// TransactionType enumerates the supported payment flows.
type TransactionType string

const (
	TypePay     TransactionType = "pay"
	TypeQRPay   TransactionType = "qr_pay"
	TypeCollect TransactionType = "collect"
)

// ValidTransactionType reports whether t is one of the supported flows.
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TypePay, TypeQRPay, TypeCollect:
		return true
	}
	return false
}

// DeviceContext carries optional device-integrity signals supplied by the
// client SDK. Absent fields mean "not observed", not "clean".
type DeviceContext struct {
	AppModified     bool `json:"appModified,omitempty"`
	Rooted          bool `json:"rooted,omitempty"`
	PermissionCount int  `json:"permissionCount,omitempty"`
	Sideloaded      bool `json:"sideloaded,omitempty"`
	OverlayDetected bool `json:"overlayDetected,omitempty"`
	ClipboardHijack bool `json:"clipboardHijack,omitempty"`
	DeviceMismatch  bool `json:"deviceMismatch,omitempty"`
	EmulatorFlag    bool `json:"emulator,omitempty"`
}

// Transaction is the immutable input to one scoring call.
type Transaction struct {
	ID         string          `json:"id"`
	Amount     float64         `json:"amount"`
	PayerID    string          `json:"payerId"`
	PayeeID    string          `json:"payeeId"`
	Message    string          `json:"message"`
	Type       TransactionType `json:"transactionType"`
	PayeeIsNew bool            `json:"payeeIsNew"`
	HourOfDay  int             `json:"hourOfDay"`

	Device *DeviceContext `json:"device,omitempty"`

	// RecentTxCount is the payer's transaction count in the velocity
	// window. Filled by the orchestrator, zero when unavailable.
	RecentTxCount int64 `json:"-"`

	Timestamp time.Time `json:"timestamp"`
}

// ScoreRequest is the API request payload for POST /api/v1/score.
type ScoreRequest struct {
	TransactionID string          `json:"transactionId"`
	Amount        float64         `json:"amount"`
	PayerID       string          `json:"payerId"`
	PayeeID       string          `json:"payeeId"`
	Message       *string         `json:"message"`
	Type          TransactionType `json:"transactionType"`
	PayeeIsNew    bool            `json:"payeeIsNew"`
	Device        *DeviceContext  `json:"device,omitempty"`
}

// Validate rejects malformed input before it reaches the scoring core.
func (r *ScoreRequest) Validate() error {
	if r.TransactionID == "" {
		return fmt.Errorf("%w: transactionId is required", ErrInvalidInput)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if r.PayerID == "" || r.PayeeID == "" {
		return fmt.Errorf("%w: payerId and payeeId are required", ErrInvalidInput)
	}
	if r.Message == nil {
		return fmt.Errorf("%w: message must be present (may be empty)", ErrInvalidInput)
	}
	if r.Type == "" {
		r.Type = TypePay
	}
	if !ValidTransactionType(r.Type) {
		return fmt.Errorf("%w: transactionType must be pay, qr_pay, or collect", ErrInvalidInput)
	}
	return nil
}

// ToTransaction converts a validated request into a Transaction.
// Defaulting happens here, never inside a detector.
func (r *ScoreRequest) ToTransaction(now time.Time) *Transaction {
	msg := ""
	if r.Message != nil {
		msg = *r.Message
	}
	return &Transaction{
		ID:         r.TransactionID,
		Amount:     r.Amount,
		PayerID:    r.PayerID,
		PayeeID:    r.PayeeID,
		Message:    msg,
		Type:       r.Type,
		PayeeIsNew: r.PayeeIsNew,
		HourOfDay:  now.Hour(),
		Device:     r.Device,
		Timestamp:  now.UTC(),
	}
}

// Package settlement defines the journal record kept for every settlement
// attempt. The journal is what makes a post-settlement record-update failure
// observable and reconcilable instead of silent.
package settlement

import "time"

// Phase identifies which executor operation a record tracks.
type Phase string

const (
	PhaseAuthorize Phase = "authorize"
	PhaseSettle    Phase = "settle"
)

// Status is the state of a journal record.
type Status string

const (
	// StatusPending: the executor call is in flight.
	StatusPending Status = "pending"
	// StatusConfirmed: funds moved; the gift record may or may not reflect it yet.
	StatusConfirmed Status = "confirmed"
	// StatusFailed: the executor reported failure; no funds moved.
	StatusFailed Status = "failed"
	// StatusReconciled: funds moved and the gift record agrees.
	StatusReconciled Status = "reconciled"
)

// Record is one settlement attempt for a gift.
type Record struct {
	ID        string    `json:"id"`
	GiftID    string    `json:"giftId"`
	Recipient string    `json:"recipient"`
	Amount    string    `json:"amount"`
	Phase     Phase     `json:"phase"`
	Status    Status    `json:"status"`
	TxHash    string    `json:"txHash,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

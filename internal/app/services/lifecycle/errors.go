package lifecycle

import (
	"errors"

	"github.com/wowgifts/giftlink/internal/app/domain/gift"
)

// Sentinel errors the HTTP layer maps onto status codes. Each marks a
// distinct failure point in the create or claim flow.
var (
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrInvalidGiftSpec    = errors.New("invalid gift")
	ErrMissingGiftID      = gift.ErrMissingGiftID
	ErrGiftNotFound       = errors.New("gift not found")

	ErrVerificationRequired = errors.New("verification required")
	ErrAlreadyClaimed       = errors.New("gift already claimed")

	// ErrSettlementAuthorizationFailed: pre-approval at creation failed; no
	// gift record was written.
	ErrSettlementAuthorizationFailed = errors.New("settlement authorization failed")
	// ErrSettlementFailed: the transfer itself failed; the gift stays
	// claimable.
	ErrSettlementFailed = errors.New("settlement failed")
	// ErrPersistenceFailed: the store rejected a write before any funds
	// moved.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrPostSettlementUpdateFailed: funds moved but the gift record could
	// not be updated. The settlement journal retains the confirmed transfer
	// and the reconciler retries the record update.
	ErrPostSettlementUpdateFailed = errors.New("gift record update failed after settlement")
)

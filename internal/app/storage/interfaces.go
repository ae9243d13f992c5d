// Package storage declares the persistence interfaces consumed by the gift
// lifecycle engine. Implementations live in the memory, postgres and redis
// subpackages.
package storage

import (
	"context"
	"errors"

	"github.com/wowgifts/giftlink/internal/app/domain/gift"
	"github.com/wowgifts/giftlink/internal/app/domain/settlement"
)

// Sentinel errors implementations wrap so callers can discriminate outcomes
// with errors.Is regardless of the backing store.
var (
	ErrGiftNotFound       = errors.New("gift not found")
	ErrGiftExists         = errors.New("gift already exists")
	ErrGiftAlreadyClaimed = errors.New("gift already claimed")
)

// GiftStore persists gift records and their per-sender history entries.
type GiftStore interface {
	// CreateGift writes the gift record and its history entry atomically:
	// either both exist afterwards or neither does.
	CreateGift(ctx context.Context, g gift.Gift, entry gift.HistoryEntry) (gift.Gift, error)
	GetGift(ctx context.Context, id string) (gift.Gift, error)
	// ClaimGift transitions the gift to claimed only if its status is still
	// created, setting ClaimedBy atomically with the status. A gift already
	// claimed yields ErrGiftAlreadyClaimed. This conditional update is the
	// server-side at-most-once-claim guarantee; the engine's own status check
	// is advisory.
	ClaimGift(ctx context.Context, id, claimant string) (gift.Gift, error)
	ListHistory(ctx context.Context, senderAddress string) ([]gift.HistoryEntry, error)
}

// SettlementStore persists the settlement journal the claim path writes
// before and after each executor call.
type SettlementStore interface {
	CreateSettlement(ctx context.Context, rec settlement.Record) (settlement.Record, error)
	UpdateSettlement(ctx context.Context, rec settlement.Record) (settlement.Record, error)
	GetSettlement(ctx context.Context, id string) (settlement.Record, error)
	// ListUnreconciled returns confirmed settle-phase records whose gift has
	// not yet been confirmed to carry the matching claimed status.
	ListUnreconciled(ctx context.Context) ([]settlement.Record, error)
}

// VerificationSessionStore tracks which sessions have proved control of a
// gift's required social handle. Entries are session scoped; backends may
// expire them.
type VerificationSessionStore interface {
	MarkVerified(ctx context.Context, giftID, sessionID, handle string) error
	IsVerified(ctx context.Context, giftID, sessionID string) (bool, error)
}

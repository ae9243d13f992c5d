// Package memory provides in-memory storage implementations suitable for
// tests and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wowgifts/giftlink/internal/app/domain/gift"
	"github.com/wowgifts/giftlink/internal/app/domain/settlement"
	"github.com/wowgifts/giftlink/internal/app/storage"
)

// Store keeps all records in process memory guarded by a single mutex.
type Store struct {
	mu          sync.RWMutex
	gifts       map[string]gift.Gift
	history     map[string][]gift.HistoryEntry
	settlements map[string]settlement.Record
	verified    map[string]string
	nextSettle  int
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		gifts:       make(map[string]gift.Gift),
		history:     make(map[string][]gift.HistoryEntry),
		settlements: make(map[string]settlement.Record),
		verified:    make(map[string]string),
	}
}

var (
	_ storage.GiftStore                = (*Store)(nil)
	_ storage.SettlementStore          = (*Store)(nil)
	_ storage.VerificationSessionStore = (*Store)(nil)
)

func cloneGift(g gift.Gift) gift.Gift {
	out := g
	if g.Token != nil {
		td := *g.Token
		out.Token = &td
	}
	if g.NFT != nil {
		nd := *g.NFT
		out.NFT = &nd
	}
	return out
}

// CreateGift stores the gift and appends its history entry.
func (s *Store) CreateGift(ctx context.Context, g gift.Gift, entry gift.HistoryEntry) (gift.Gift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.gifts[g.ID]; ok {
		return gift.Gift{}, fmt.Errorf("gift %s: %w", g.ID, storage.ErrGiftExists)
	}
	s.gifts[g.ID] = cloneGift(g)
	s.history[entry.SenderAddress] = append(s.history[entry.SenderAddress], entry)
	return cloneGift(g), nil
}

// GetGift returns the gift with the given id.
func (s *Store) GetGift(ctx context.Context, id string) (gift.Gift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gifts[id]
	if !ok {
		return gift.Gift{}, fmt.Errorf("gift %s: %w", id, storage.ErrGiftNotFound)
	}
	return cloneGift(g), nil
}

// ClaimGift marks the gift claimed by claimant if it is still unclaimed.
func (s *Store) ClaimGift(ctx context.Context, id, claimant string) (gift.Gift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gifts[id]
	if !ok {
		return gift.Gift{}, fmt.Errorf("gift %s: %w", id, storage.ErrGiftNotFound)
	}
	if g.Status != gift.StatusCreated {
		return gift.Gift{}, fmt.Errorf("gift %s: %w", id, storage.ErrGiftAlreadyClaimed)
	}
	g.Status = gift.StatusClaimed
	g.ClaimedBy = claimant
	g.ClaimedAt = time.Now().UTC()
	s.gifts[id] = g
	return cloneGift(g), nil
}

// ListHistory returns the sender's gift history, newest first.
func (s *Store) ListHistory(ctx context.Context, senderAddress string) ([]gift.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[senderAddress]
	out := make([]gift.HistoryEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CreateSettlement stores the record, assigning an id when none is set.
func (s *Store) CreateSettlement(ctx context.Context, rec settlement.Record) (settlement.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		s.nextSettle++
		rec.ID = fmt.Sprintf("settle-%d", s.nextSettle)
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.settlements[rec.ID] = rec
	return rec, nil
}

// UpdateSettlement replaces the stored record.
func (s *Store) UpdateSettlement(ctx context.Context, rec settlement.Record) (settlement.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.settlements[rec.ID]
	if !ok {
		return settlement.Record{}, fmt.Errorf("settlement %s: %w", rec.ID, storage.ErrGiftNotFound)
	}
	rec.CreatedAt = cur.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	s.settlements[rec.ID] = rec
	return rec, nil
}

// GetSettlement returns the record with the given id.
func (s *Store) GetSettlement(ctx context.Context, id string) (settlement.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.settlements[id]
	if !ok {
		return settlement.Record{}, fmt.Errorf("settlement %s: %w", id, storage.ErrGiftNotFound)
	}
	return rec, nil
}

// ListUnreconciled returns confirmed settle-phase records in insertion order.
func (s *Store) ListUnreconciled(ctx context.Context) ([]settlement.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []settlement.Record
	for _, rec := range s.settlements {
		if rec.Phase == settlement.PhaseSettle && rec.Status == settlement.StatusConfirmed {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func sessionKey(giftID, sessionID string) string {
	return giftID + "\x00" + sessionID
}

// MarkVerified records that the session proved control of the handle.
func (s *Store) MarkVerified(ctx context.Context, giftID, sessionID, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified[sessionKey(giftID, sessionID)] = handle
	return nil
}

// IsVerified reports whether the session has verified the gift's handle.
func (s *Store) IsVerified(ctx context.Context, giftID, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.verified[sessionKey(giftID, sessionID)]
	return ok, nil
}

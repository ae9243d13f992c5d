package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wowgifts/giftlink/internal/app/domain/gift"
	"github.com/wowgifts/giftlink/internal/app/domain/settlement"
	"github.com/wowgifts/giftlink/internal/app/storage"
)

func sampleGift(id string) gift.Gift {
	return gift.Gift{
		ID:             id,
		SenderAddress:  "0xsender",
		Type:           gift.TypeToken,
		Token:          &gift.TokenDetails{Name: "USDC", Address: "0xtoken", Amount: "25"},
		Theme:          gift.ThemeBirthday,
		DeliveryMethod: gift.DeliveryLink,
		Status:         gift.StatusCreated,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestCreateAndGetGift(t *testing.T) {
	store := New()
	ctx := context.Background()

	g := sampleGift("g1")
	entry := gift.HistoryEntry{GiftID: "g1", SenderAddress: g.SenderAddress, CreatedAt: g.CreatedAt}
	if _, err := store.CreateGift(ctx, g, entry); err != nil {
		t.Fatalf("create gift: %v", err)
	}
	if _, err := store.CreateGift(ctx, g, entry); !errors.Is(err, storage.ErrGiftExists) {
		t.Fatalf("expected ErrGiftExists, got %v", err)
	}

	got, err := store.GetGift(ctx, "g1")
	if err != nil {
		t.Fatalf("get gift: %v", err)
	}
	if got.Token == nil || got.Token.Amount != "25" {
		t.Fatalf("unexpected token details: %+v", got.Token)
	}

	// Mutating the returned copy must not leak into the store.
	got.Token.Amount = "999"
	again, err := store.GetGift(ctx, "g1")
	if err != nil {
		t.Fatalf("get gift again: %v", err)
	}
	if again.Token.Amount != "25" {
		t.Fatalf("stored gift mutated through returned copy")
	}

	if _, err := store.GetGift(ctx, "missing"); !errors.Is(err, storage.ErrGiftNotFound) {
		t.Fatalf("expected ErrGiftNotFound, got %v", err)
	}
}

func TestClaimGiftAtMostOnce(t *testing.T) {
	store := New()
	ctx := context.Background()

	g := sampleGift("g1")
	if _, err := store.CreateGift(ctx, g, gift.HistoryEntry{GiftID: "g1", SenderAddress: g.SenderAddress}); err != nil {
		t.Fatalf("create gift: %v", err)
	}

	const claimants = 8
	var wg sync.WaitGroup
	wins := make(chan string, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			claimed, err := store.ClaimGift(ctx, "g1", "0xclaimant")
			if err == nil {
				wins <- claimed.ClaimedBy
				return
			}
			if !errors.Is(err, storage.ErrGiftAlreadyClaimed) {
				t.Errorf("claimant %d: unexpected error %v", n, err)
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", winners)
	}

	final, err := store.GetGift(ctx, "g1")
	if err != nil {
		t.Fatalf("get gift: %v", err)
	}
	if final.Status != gift.StatusClaimed || final.ClaimedBy != "0xclaimant" || final.ClaimedAt.IsZero() {
		t.Fatalf("unexpected claimed gift: %+v", final)
	}
}

func TestListHistoryNewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"g1", "g2", "g3"} {
		g := sampleGift(id)
		g.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		entry := gift.HistoryEntry{GiftID: id, SenderAddress: g.SenderAddress, CreatedAt: g.CreatedAt}
		if _, err := store.CreateGift(ctx, g, entry); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	entries, err := store.ListHistory(ctx, "0xsender")
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].GiftID != "g3" || entries[2].GiftID != "g1" {
		t.Fatalf("history not newest first: %v %v %v", entries[0].GiftID, entries[1].GiftID, entries[2].GiftID)
	}

	empty, err := store.ListHistory(ctx, "0xother")
	if err != nil {
		t.Fatalf("list empty history: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(empty))
	}
}

func TestSettlementJournal(t *testing.T) {
	store := New()
	ctx := context.Background()

	rec, err := store.CreateSettlement(ctx, settlement.Record{
		GiftID:    "g1",
		Recipient: "0xclaimant",
		Amount:    "25",
		Phase:     settlement.PhaseSettle,
		Status:    settlement.StatusPending,
	})
	if err != nil {
		t.Fatalf("create settlement: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected assigned settlement id")
	}

	rec.Status = settlement.StatusConfirmed
	rec.TxHash = "0xabc"
	if _, err := store.UpdateSettlement(ctx, rec); err != nil {
		t.Fatalf("update settlement: %v", err)
	}

	got, err := store.GetSettlement(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get settlement: %v", err)
	}
	if got.Status != settlement.StatusConfirmed || got.TxHash != "0xabc" {
		t.Fatalf("unexpected settlement: %+v", got)
	}

	pending, err := store.ListUnreconciled(ctx)
	if err != nil {
		t.Fatalf("list unreconciled: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != rec.ID {
		t.Fatalf("unexpected unreconciled set: %+v", pending)
	}

	got.Status = settlement.StatusReconciled
	if _, err := store.UpdateSettlement(ctx, got); err != nil {
		t.Fatalf("reconcile settlement: %v", err)
	}
	pending, err = store.ListUnreconciled(ctx)
	if err != nil {
		t.Fatalf("list unreconciled: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no unreconciled records, got %d", len(pending))
	}
}

func TestVerificationSessions(t *testing.T) {
	store := New()
	ctx := context.Background()

	ok, err := store.IsVerified(ctx, "g1", "sess1")
	if err != nil {
		t.Fatalf("is verified: %v", err)
	}
	if ok {
		t.Fatal("expected unverified session")
	}

	if err := store.MarkVerified(ctx, "g1", "sess1", "alice"); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	ok, err = store.IsVerified(ctx, "g1", "sess1")
	if err != nil {
		t.Fatalf("is verified: %v", err)
	}
	if !ok {
		t.Fatal("expected verified session")
	}

	// Verification is scoped to the session and the gift.
	if ok, _ := store.IsVerified(ctx, "g1", "sess2"); ok {
		t.Fatal("verification leaked to another session")
	}
	if ok, _ := store.IsVerified(ctx, "g2", "sess1"); ok {
		t.Fatal("verification leaked to another gift")
	}
}

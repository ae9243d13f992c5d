package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/wowgifts/giftlink/internal/app/domain/gift"
	"github.com/wowgifts/giftlink/internal/app/domain/settlement"
	"github.com/wowgifts/giftlink/internal/app/storage"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	id := "itest-" + time.Now().UTC().Format("20060102150405.000000000")
	g := gift.Gift{
		ID:             id,
		SenderAddress:  "0xsender",
		Type:           gift.TypeToken,
		Token:          &gift.TokenDetails{Name: "USDC", Address: "0xtoken", Amount: "10"},
		Theme:          gift.ThemeBirthday,
		DeliveryMethod: gift.DeliveryLink,
		Status:         gift.StatusCreated,
		CreatedAt:      time.Now().UTC(),
	}
	entry := gift.HistoryEntry{
		GiftID:        id,
		SenderAddress: g.SenderAddress,
		Theme:         g.Theme,
		GiftSummary:   g.Summary(),
		CreatedAt:     g.CreatedAt,
	}

	if _, err := store.CreateGift(ctx, g, entry); err != nil {
		t.Fatalf("create gift: %v", err)
	}
	if _, err := store.CreateGift(ctx, g, entry); !errors.Is(err, storage.ErrGiftExists) {
		t.Fatalf("expected ErrGiftExists, got %v", err)
	}

	got, err := store.GetGift(ctx, id)
	if err != nil {
		t.Fatalf("get gift: %v", err)
	}
	if got.Token == nil || got.Token.Amount != "10" {
		t.Fatalf("unexpected token details: %+v", got.Token)
	}

	claimed, err := store.ClaimGift(ctx, id, "0xclaimant")
	if err != nil {
		t.Fatalf("claim gift: %v", err)
	}
	if claimed.Status != gift.StatusClaimed || claimed.ClaimedBy != "0xclaimant" {
		t.Fatalf("unexpected claimed gift: %+v", claimed)
	}
	if _, err := store.ClaimGift(ctx, id, "0xother"); !errors.Is(err, storage.ErrGiftAlreadyClaimed) {
		t.Fatalf("expected ErrGiftAlreadyClaimed, got %v", err)
	}

	history, err := store.ListHistory(ctx, g.SenderAddress)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	var found bool
	for _, e := range history {
		if e.GiftID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("history entry for %s not found", id)
	}

	rec, err := store.CreateSettlement(ctx, settlement.Record{
		GiftID:    id,
		Recipient: "0xclaimant",
		Amount:    "10",
		Phase:     settlement.PhaseSettle,
		Status:    settlement.StatusPending,
	})
	if err != nil {
		t.Fatalf("create settlement: %v", err)
	}
	rec.Status = settlement.StatusConfirmed
	rec.TxHash = "0xabc"
	if _, err := store.UpdateSettlement(ctx, rec); err != nil {
		t.Fatalf("update settlement: %v", err)
	}
	unreconciled, err := store.ListUnreconciled(ctx)
	if err != nil {
		t.Fatalf("list unreconciled: %v", err)
	}
	var present bool
	for _, r := range unreconciled {
		if r.ID == rec.ID {
			present = true
		}
	}
	if !present {
		t.Fatalf("settlement %s not listed as unreconciled", rec.ID)
	}
}

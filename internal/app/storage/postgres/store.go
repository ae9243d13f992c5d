// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wowgifts/giftlink/internal/app/domain/gift"
	"github.com/wowgifts/giftlink/internal/app/domain/settlement"
	"github.com/wowgifts/giftlink/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.GiftStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the tables the store needs if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS gifts (
			id TEXT PRIMARY KEY,
			sender_address TEXT NOT NULL,
			gift_type TEXT NOT NULL,
			token_details JSONB,
			nft_details JSONB,
			message TEXT NOT NULL DEFAULT '',
			theme TEXT NOT NULL,
			delivery_method TEXT NOT NULL,
			recipient_email TEXT NOT NULL DEFAULT '',
			verification_handle TEXT NOT NULL DEFAULT '',
			generated_link TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			claimed_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			claimed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS gift_history (
			gift_id TEXT NOT NULL,
			sender_address TEXT NOT NULL,
			theme TEXT NOT NULL,
			recipient_info TEXT NOT NULL DEFAULT '',
			gift_summary TEXT NOT NULL DEFAULT '',
			link TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (sender_address, gift_id)
		)`,
		`CREATE INDEX IF NOT EXISTS gift_history_sender_idx
			ON gift_history (sender_address, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS gift_settlements (
			id TEXT PRIMARY KEY,
			gift_id TEXT NOT NULL,
			recipient TEXT NOT NULL,
			amount TEXT NOT NULL,
			phase TEXT NOT NULL,
			status TEXT NOT NULL,
			tx_hash TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- GiftStore --------------------------------------------------------------

func (s *Store) CreateGift(ctx context.Context, g gift.Gift, entry gift.HistoryEntry) (gift.Gift, error) {
	var tokenJSON, nftJSON []byte
	var err error
	if g.Token != nil {
		if tokenJSON, err = json.Marshal(g.Token); err != nil {
			return gift.Gift{}, err
		}
	}
	if g.NFT != nil {
		if nftJSON, err = json.Marshal(g.NFT); err != nil {
			return gift.Gift{}, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return gift.Gift{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO gifts (id, sender_address, gift_type, token_details, nft_details,
			message, theme, delivery_method, recipient_email, verification_handle,
			generated_link, status, claimed_by, created_at, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, g.ID, g.SenderAddress, g.Type, tokenJSON, nftJSON,
		g.Message, g.Theme, g.DeliveryMethod, g.RecipientEmail, g.VerificationTwitterHandle,
		g.GeneratedLink, g.Status, g.ClaimedBy, g.CreatedAt, nullableTime(g.ClaimedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return gift.Gift{}, fmt.Errorf("gift %s: %w", g.ID, storage.ErrGiftExists)
		}
		return gift.Gift{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO gift_history (gift_id, sender_address, theme, recipient_info,
			gift_summary, link, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.GiftID, entry.SenderAddress, entry.Theme, entry.RecipientInfo,
		entry.GiftSummary, entry.Link, entry.CreatedAt)
	if err != nil {
		return gift.Gift{}, err
	}

	if err := tx.Commit(); err != nil {
		return gift.Gift{}, err
	}
	return g, nil
}

const giftColumns = `id, sender_address, gift_type, token_details, nft_details,
	message, theme, delivery_method, recipient_email, verification_handle,
	generated_link, status, claimed_by, created_at, claimed_at`

func (s *Store) GetGift(ctx context.Context, id string) (gift.Gift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+giftColumns+`
		FROM gifts
		WHERE id = $1
	`, id)

	g, err := scanGift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return gift.Gift{}, fmt.Errorf("gift %s: %w", id, storage.ErrGiftNotFound)
	}
	if err != nil {
		return gift.Gift{}, err
	}
	return g, nil
}

func (s *Store) ClaimGift(ctx context.Context, id, claimant string) (gift.Gift, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE gifts
		SET status = $3, claimed_by = $2, claimed_at = $4
		WHERE id = $1 AND status = $5
		RETURNING `+giftColumns+`
	`, id, claimant, gift.StatusClaimed, time.Now().UTC(), gift.StatusCreated)

	g, err := scanGift(row)
	if errors.Is(err, sql.ErrNoRows) {
		// The conditional update matched nothing: either the gift is gone or
		// someone else claimed it first.
		if _, getErr := s.GetGift(ctx, id); getErr != nil {
			return gift.Gift{}, getErr
		}
		return gift.Gift{}, fmt.Errorf("gift %s: %w", id, storage.ErrGiftAlreadyClaimed)
	}
	if err != nil {
		return gift.Gift{}, err
	}
	return g, nil
}

func (s *Store) ListHistory(ctx context.Context, senderAddress string) ([]gift.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT gift_id, sender_address, theme, recipient_info, gift_summary, link, created_at
		FROM gift_history
		WHERE sender_address = $1
		ORDER BY created_at DESC
	`, senderAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []gift.HistoryEntry
	for rows.Next() {
		var entry gift.HistoryEntry
		if err := rows.Scan(&entry.GiftID, &entry.SenderAddress, &entry.Theme,
			&entry.RecipientInfo, &entry.GiftSummary, &entry.Link, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

// --- SettlementStore --------------------------------------------------------

func (s *Store) CreateSettlement(ctx context.Context, rec settlement.Record) (settlement.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gift_settlements (id, gift_id, recipient, amount, phase, status,
			tx_hash, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.GiftID, rec.Recipient, rec.Amount, rec.Phase, rec.Status,
		rec.TxHash, rec.Message, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return settlement.Record{}, err
	}
	return rec, nil
}

func (s *Store) UpdateSettlement(ctx context.Context, rec settlement.Record) (settlement.Record, error) {
	rec.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE gift_settlements
		SET phase = $2, status = $3, tx_hash = $4, message = $5, updated_at = $6
		WHERE id = $1
	`, rec.ID, rec.Phase, rec.Status, rec.TxHash, rec.Message, rec.UpdatedAt)
	if err != nil {
		return settlement.Record{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return settlement.Record{}, fmt.Errorf("settlement %s: %w", rec.ID, storage.ErrGiftNotFound)
	}
	return rec, nil
}

func (s *Store) GetSettlement(ctx context.Context, id string) (settlement.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, gift_id, recipient, amount, phase, status, tx_hash, message, created_at, updated_at
		FROM gift_settlements
		WHERE id = $1
	`, id)

	var rec settlement.Record
	err := row.Scan(&rec.ID, &rec.GiftID, &rec.Recipient, &rec.Amount, &rec.Phase,
		&rec.Status, &rec.TxHash, &rec.Message, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.Record{}, fmt.Errorf("settlement %s: %w", id, storage.ErrGiftNotFound)
	}
	if err != nil {
		return settlement.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListUnreconciled(ctx context.Context) ([]settlement.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, gift_id, recipient, amount, phase, status, tx_hash, message, created_at, updated_at
		FROM gift_settlements
		WHERE phase = $1 AND status = $2
		ORDER BY created_at
	`, settlement.PhaseSettle, settlement.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Record
	for rows.Next() {
		var rec settlement.Record
		if err := rows.Scan(&rec.ID, &rec.GiftID, &rec.Recipient, &rec.Amount, &rec.Phase,
			&rec.Status, &rec.TxHash, &rec.Message, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// --- helpers ----------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGift(row rowScanner) (gift.Gift, error) {
	var (
		g         gift.Gift
		tokenRaw  []byte
		nftRaw    []byte
		claimedAt sql.NullTime
	)
	err := row.Scan(&g.ID, &g.SenderAddress, &g.Type, &tokenRaw, &nftRaw,
		&g.Message, &g.Theme, &g.DeliveryMethod, &g.RecipientEmail, &g.VerificationTwitterHandle,
		&g.GeneratedLink, &g.Status, &g.ClaimedBy, &g.CreatedAt, &claimedAt)
	if err != nil {
		return gift.Gift{}, err
	}
	if len(tokenRaw) > 0 {
		g.Token = &gift.TokenDetails{}
		_ = json.Unmarshal(tokenRaw, g.Token)
	}
	if len(nftRaw) > 0 {
		g.NFT = &gift.NFTDetails{}
		_ = json.Unmarshal(nftRaw, g.NFT)
	}
	if claimedAt.Valid {
		g.ClaimedAt = claimedAt.Time
	}
	return g, nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}

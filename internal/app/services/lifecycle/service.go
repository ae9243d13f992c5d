// Package lifecycle implements the gift lifecycle: create, deliver, verify,
// claim, settle. It owns every state transition; transports and pollers only
// call in.
package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wowgifts/giftlink/internal/app/domain/gift"
	settlementdomain "github.com/wowgifts/giftlink/internal/app/domain/settlement"
	"github.com/wowgifts/giftlink/internal/app/metrics"
	"github.com/wowgifts/giftlink/internal/app/services/identity"
	"github.com/wowgifts/giftlink/internal/app/services/mailer"
	"github.com/wowgifts/giftlink/internal/app/services/settlement"
	"github.com/wowgifts/giftlink/internal/app/storage"
	"github.com/wowgifts/giftlink/pkg/logger"
)

// Deps carries the collaborators the engine needs. Gifts, Settlements,
// Sessions and Executor are required; Identity is required only when gifts
// with verification handles are expected; Mail may be nil when email delivery
// is disabled.
type Deps struct {
	Gifts       storage.GiftStore
	Settlements storage.SettlementStore
	Sessions    storage.VerificationSessionStore
	Executor    settlement.Executor
	Identity    *identity.Service
	Mail        mailer.Mailer

	// BaseURL is the public origin prepended to generated link paths, e.g.
	// "https://gifts.example.com". Empty leaves links relative.
	BaseURL string

	Log *logger.Logger
}

// Service is the gift lifecycle engine.
type Service struct {
	gifts       storage.GiftStore
	settlements storage.SettlementStore
	sessions    storage.VerificationSessionStore
	executor    settlement.Executor
	identity    *identity.Service
	mail        mailer.Mailer
	baseURL     string
	log         *logger.Logger
}

// New validates deps and constructs the engine.
func New(deps Deps) (*Service, error) {
	if deps.Gifts == nil {
		return nil, fmt.Errorf("gift store required")
	}
	if deps.Settlements == nil {
		return nil, fmt.Errorf("settlement store required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("settlement executor required")
	}
	log := deps.Log
	if log == nil {
		log = logger.NewDefault("lifecycle")
	}
	return &Service{
		gifts:       deps.Gifts,
		settlements: deps.Settlements,
		sessions:    deps.Sessions,
		executor:    deps.Executor,
		identity:    deps.Identity,
		mail:        deps.Mail,
		baseURL:     strings.TrimSuffix(strings.TrimSpace(deps.BaseURL), "/"),
		log:         log,
	}, nil
}

// CreateRequest is the sender's gift specification.
type CreateRequest struct {
	SenderAddress             string              `json:"senderAddress"`
	Type                      gift.Type           `json:"giftType"`
	Token                     *gift.TokenDetails  `json:"tokenDetails,omitempty"`
	NFT                       *gift.NFTDetails    `json:"nftDetails,omitempty"`
	Message                   string              `json:"message"`
	Theme                     string              `json:"theme"`
	DeliveryMethod            gift.DeliveryMethod `json:"deliveryMethod"`
	RecipientEmail            string              `json:"recipientEmail,omitempty"`
	VerificationTwitterHandle string              `json:"verificationTwitterHandle,omitempty"`
}

// CreateResult is the created gift plus delivery status. MailError is set
// when the gift exists but the notification email could not be queued; the
// sender falls back to sharing the link directly.
type CreateResult struct {
	Gift      gift.Gift `json:"gift"`
	ClaimLink string    `json:"claimLink"`
	MailError string    `json:"mailError,omitempty"`
}

// CreateGift validates the request, pre-authorizes settlement, persists the
// gift with its history entry and queues the notification email.
func (s *Service) CreateGift(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if strings.TrimSpace(req.SenderAddress) == "" {
		return CreateResult{}, ErrWalletNotConnected
	}
	theme, err := gift.ParseTheme(req.Theme)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: %v", ErrInvalidGiftSpec, err)
	}
	if err := validateAssets(req); err != nil {
		return CreateResult{}, err
	}
	if req.DeliveryMethod == "" {
		req.DeliveryMethod = gift.DeliveryLink
	}
	if req.DeliveryMethod != gift.DeliveryLink && req.DeliveryMethod != gift.DeliveryEmail {
		return CreateResult{}, fmt.Errorf("%w: unknown delivery method %q", ErrInvalidGiftSpec, req.DeliveryMethod)
	}
	if req.DeliveryMethod == gift.DeliveryEmail && strings.TrimSpace(req.RecipientEmail) == "" {
		return CreateResult{}, fmt.Errorf("%w: email delivery requires a recipient email", ErrInvalidGiftSpec)
	}

	id, err := newGiftID()
	if err != nil {
		return CreateResult{}, fmt.Errorf("generate gift id: %w", err)
	}
	path, err := gift.EncodeLink(theme, id)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: %v", ErrInvalidGiftSpec, err)
	}
	link := s.baseURL + path

	g := gift.Gift{
		ID:                        id,
		SenderAddress:             strings.TrimSpace(req.SenderAddress),
		Type:                      req.Type,
		Token:                     req.Token,
		NFT:                       req.NFT,
		Message:                   req.Message,
		Theme:                     theme,
		DeliveryMethod:            req.DeliveryMethod,
		RecipientEmail:            strings.TrimSpace(req.RecipientEmail),
		VerificationTwitterHandle: identity.NormalizeHandle(req.VerificationTwitterHandle),
		GeneratedLink:             link,
		Status:                    gift.StatusCreated,
		CreatedAt:                 time.Now().UTC(),
	}

	// Token gifts draw from escrow, so the draw is pre-approved before
	// anything is persisted. A refused authorization leaves no trace.
	if g.Type == gift.TypeToken {
		if err := s.executor.Authorize(ctx, g.SenderAddress, g.Token.Address, g.Token.Amount); err != nil {
			s.log.WithError(err).WithField("sender", g.SenderAddress).Warn("authorization refused")
			return CreateResult{}, fmt.Errorf("%w: %v", ErrSettlementAuthorizationFailed, err)
		}
	}

	entry := gift.HistoryEntry{
		GiftID:        id,
		SenderAddress: g.SenderAddress,
		Theme:         theme,
		RecipientInfo: recipientInfo(g),
		GiftSummary:   g.Summary(),
		Link:          link,
		CreatedAt:     g.CreatedAt,
	}
	stored, err := s.gifts.CreateGift(ctx, g, entry)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	metrics.RecordGiftCreated(string(theme), string(g.Type))
	s.log.WithField("gift", id).WithField("theme", string(theme)).Info("gift created")

	result := CreateResult{Gift: stored, ClaimLink: link}
	if g.DeliveryMethod == gift.DeliveryEmail {
		result.MailError = s.sendNotification(ctx, stored, link)
	}
	return result, nil
}

// GetGift returns the gift for display on its claim page.
func (s *Service) GetGift(ctx context.Context, id string) (gift.Gift, error) {
	if strings.TrimSpace(id) == "" {
		return gift.Gift{}, ErrMissingGiftID
	}
	g, err := s.gifts.GetGift(ctx, id)
	if errors.Is(err, storage.ErrGiftNotFound) {
		return gift.Gift{}, fmt.Errorf("gift %s: %w", id, ErrGiftNotFound)
	}
	if err != nil {
		return gift.Gift{}, err
	}
	return g, nil
}

// ResolveLink maps a shared claim link back to its gift.
func (s *Service) ResolveLink(ctx context.Context, link string) (gift.Gift, error) {
	_, id, err := gift.DecodeLink(link)
	if err != nil {
		return gift.Gift{}, err
	}
	return s.GetGift(ctx, id)
}

// VerifyRecipient checks the claimant's identity proof against the gift's
// required handle and, on success, marks the session verified. Gifts without
// a verification requirement verify trivially.
func (s *Service) VerifyRecipient(ctx context.Context, giftID, sessionID, proof string) (identity.Result, error) {
	g, err := s.GetGift(ctx, giftID)
	if err != nil {
		return identity.Result{}, err
	}
	if !g.RequiresVerification() {
		return identity.Result{Verified: true}, nil
	}
	if s.identity == nil {
		return identity.Result{}, fmt.Errorf("identity verification not configured")
	}

	res, err := s.identity.Verify(ctx, g.VerificationTwitterHandle, proof)
	if err != nil {
		return identity.Result{}, err
	}
	if res.Verified {
		if err := s.sessions.MarkVerified(ctx, g.ID, sessionID, res.Handle); err != nil {
			return identity.Result{}, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
		}
		s.log.WithField("gift", g.ID).Info("recipient verified")
	}
	return res, nil
}

// Claim settles the gift to the claimant and marks the record claimed. The
// store-level conditional update is what guarantees a single winner; the
// early status check only short-circuits the obvious repeat.
func (s *Service) Claim(ctx context.Context, giftID, sessionID, claimant string) (gift.Gift, error) {
	claimant = strings.TrimSpace(claimant)
	if claimant == "" {
		return gift.Gift{}, ErrWalletNotConnected
	}
	g, err := s.GetGift(ctx, giftID)
	if err != nil {
		return gift.Gift{}, err
	}
	if g.Claimed() {
		metrics.RecordClaim("already_claimed", 0)
		return gift.Gift{}, fmt.Errorf("gift %s: %w", giftID, ErrAlreadyClaimed)
	}
	if g.RequiresVerification() {
		ok, err := s.sessions.IsVerified(ctx, g.ID, sessionID)
		if err != nil {
			return gift.Gift{}, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
		}
		if !ok {
			metrics.RecordClaim("verification_required", 0)
			return gift.Gift{}, fmt.Errorf("gift %s: %w", giftID, ErrVerificationRequired)
		}
	}

	rec, err := s.settlements.CreateSettlement(ctx, settlementdomain.Record{
		GiftID:    g.ID,
		Recipient: claimant,
		Amount:    g.SettleAmount(),
		Phase:     settlementdomain.PhaseSettle,
		Status:    settlementdomain.StatusPending,
	})
	if err != nil {
		return gift.Gift{}, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	start := time.Now()
	receipt, err := s.executor.Settle(ctx, claimant, g.AssetAddress(), g.SettleAmount())
	settleDuration := time.Since(start)
	if err != nil {
		rec.Status = settlementdomain.StatusFailed
		rec.Message = err.Error()
		if _, uerr := s.settlements.UpdateSettlement(ctx, rec); uerr != nil {
			s.log.WithError(uerr).WithField("settlement", rec.ID).Error("failed settlement not journaled")
		}
		metrics.RecordClaim("settlement_failed", settleDuration)
		s.log.WithError(err).WithField("gift", g.ID).Warn("settlement failed")
		return gift.Gift{}, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}

	rec.Status = settlementdomain.StatusConfirmed
	rec.TxHash = receipt.TxHash
	rec.Message = receipt.Message
	if _, err := s.settlements.UpdateSettlement(ctx, rec); err != nil {
		// Funds moved and only the journal entry is stale. The record update
		// below still runs; the reconciler cannot help without the journal,
		// so this is logged loudly.
		s.log.WithError(err).WithField("settlement", rec.ID).Error("confirmed settlement not journaled")
	}

	claimed, err := s.gifts.ClaimGift(ctx, g.ID, claimant)
	if err != nil {
		metrics.RecordClaim("record_update_failed", settleDuration)
		metrics.RecordConsistencyFailure()
		s.log.WithError(err).WithField("gift", g.ID).WithField("tx", receipt.TxHash).
			Error("gift record update failed after settlement")
		return gift.Gift{}, fmt.Errorf("gift %s tx %s: %w", g.ID, receipt.TxHash, ErrPostSettlementUpdateFailed)
	}

	rec.Status = settlementdomain.StatusReconciled
	if _, err := s.settlements.UpdateSettlement(ctx, rec); err != nil {
		s.log.WithError(err).WithField("settlement", rec.ID).Warn("settlement not marked reconciled")
	}

	metrics.RecordClaim("claimed", settleDuration)
	s.log.WithField("gift", g.ID).WithField("tx", receipt.TxHash).Info("gift claimed")
	return claimed, nil
}

// History lists the sender's created gifts, newest first.
func (s *Service) History(ctx context.Context, senderAddress string) ([]gift.HistoryEntry, error) {
	if strings.TrimSpace(senderAddress) == "" {
		return nil, ErrWalletNotConnected
	}
	return s.gifts.ListHistory(ctx, senderAddress)
}

func (s *Service) sendNotification(ctx context.Context, g gift.Gift, link string) string {
	if s.mail == nil {
		return "mail delivery not configured"
	}
	if err := s.mail.Send(ctx, mailer.GiftMessage(g, link)); err != nil {
		s.log.WithError(err).WithField("gift", g.ID).Warn("notification mail failed")
		return err.Error()
	}
	return ""
}

func validateAssets(req CreateRequest) error {
	switch req.Type {
	case gift.TypeToken:
		if req.Token == nil {
			return fmt.Errorf("%w: token gift requires token details", ErrInvalidGiftSpec)
		}
		if req.NFT != nil {
			return fmt.Errorf("%w: token gift must not carry nft details", ErrInvalidGiftSpec)
		}
		if strings.TrimSpace(req.Token.Name) == "" {
			return fmt.Errorf("%w: token name required", ErrInvalidGiftSpec)
		}
		if strings.TrimSpace(req.Token.Address) == "" {
			return fmt.Errorf("%w: token address required", ErrInvalidGiftSpec)
		}
		if !gift.ValidAmount(req.Token.Amount) {
			return fmt.Errorf("%w: invalid token amount %q", ErrInvalidGiftSpec, req.Token.Amount)
		}
	case gift.TypeNFT:
		if req.NFT == nil {
			return fmt.Errorf("%w: nft gift requires nft details", ErrInvalidGiftSpec)
		}
		if req.Token != nil {
			return fmt.Errorf("%w: nft gift must not carry token details", ErrInvalidGiftSpec)
		}
		if strings.TrimSpace(req.NFT.Address) == "" {
			return fmt.Errorf("%w: nft address required", ErrInvalidGiftSpec)
		}
	default:
		return fmt.Errorf("%w: unknown gift type %q", ErrInvalidGiftSpec, req.Type)
	}
	return nil
}

func recipientInfo(g gift.Gift) string {
	if g.RecipientEmail != "" {
		return g.RecipientEmail
	}
	if g.VerificationTwitterHandle != "" {
		return "@" + g.VerificationTwitterHandle
	}
	return "link recipient"
}

// newGiftID returns a 32-character random hex identifier. The id is the
// capability for viewing and claiming, so it is drawn from crypto/rand.
func newGiftID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

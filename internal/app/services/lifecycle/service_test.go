package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/wowgifts/giftlink/internal/app/domain/gift"
	settlementdomain "github.com/wowgifts/giftlink/internal/app/domain/settlement"
	"github.com/wowgifts/giftlink/internal/app/services/identity"
	"github.com/wowgifts/giftlink/internal/app/services/mailer"
	"github.com/wowgifts/giftlink/internal/app/services/settlement"
	"github.com/wowgifts/giftlink/internal/app/storage/memory"
)

type countingExecutor struct {
	mu         sync.Mutex
	authorized int
	settled    int
	authErr    error
	settleErr  error
	lastSettle []string
}

func (e *countingExecutor) Authorize(ctx context.Context, sender, token, amount string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.authErr != nil {
		return e.authErr
	}
	e.authorized++
	return nil
}

func (e *countingExecutor) Settle(ctx context.Context, recipient, token, amount string) (settlement.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settleErr != nil {
		return settlement.Receipt{}, e.settleErr
	}
	e.settled++
	e.lastSettle = []string{recipient, token, amount}
	return settlement.Receipt{TxHash: fmt.Sprintf("0xtx%d", e.settled)}, nil
}

type staticProvider struct{ handle string }

func (p staticProvider) ResolveHandle(ctx context.Context, proof string) (string, error) {
	return p.handle, nil
}

type failingMailer struct{ err error }

func (m failingMailer) Send(ctx context.Context, msg mailer.Message) error { return m.err }

// claimFailStore wraps the memory store and fails ClaimGift until released.
type claimFailStore struct {
	*memory.Store
	mu   sync.Mutex
	fail bool
}

func (s *claimFailStore) ClaimGift(ctx context.Context, id, claimant string) (gift.Gift, error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return gift.Gift{}, errors.New("write timeout")
	}
	return s.Store.ClaimGift(ctx, id, claimant)
}

func (s *claimFailStore) release() {
	s.mu.Lock()
	s.fail = false
	s.mu.Unlock()
}

func newService(t *testing.T, deps Deps) *Service {
	t.Helper()
	store := memory.New()
	if deps.Gifts == nil {
		deps.Gifts = store
	}
	if deps.Settlements == nil {
		deps.Settlements = store
	}
	if deps.Sessions == nil {
		deps.Sessions = store
	}
	if deps.Executor == nil {
		deps.Executor = &countingExecutor{}
	}
	svc, err := New(deps)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func tokenRequest() CreateRequest {
	return CreateRequest{
		SenderAddress: "0xsender",
		Type:          gift.TypeToken,
		Token:         &gift.TokenDetails{Name: "USDC", Address: "0xtoken", Amount: "25"},
		Message:       "enjoy",
		Theme:         "birthday",
	}
}

func TestCreateGift(t *testing.T) {
	store := memory.New()
	exec := &countingExecutor{}
	svc := newService(t, Deps{Gifts: store, Settlements: store, Sessions: store, Executor: exec, BaseURL: "https://gifts.example.com"})

	res, err := svc.CreateGift(context.Background(), tokenRequest())
	if err != nil {
		t.Fatalf("create gift: %v", err)
	}
	if len(res.Gift.ID) < 32 {
		t.Fatalf("gift id too short: %q", res.Gift.ID)
	}
	linkPattern := regexp.MustCompile(`^https://gifts\.example\.com/gifts/birthday\?id=[0-9a-f]{32}$`)
	if !linkPattern.MatchString(res.ClaimLink) {
		t.Fatalf("unexpected claim link %q", res.ClaimLink)
	}
	if res.Gift.GeneratedLink != res.ClaimLink {
		t.Fatalf("persisted link %q differs from result link %q", res.Gift.GeneratedLink, res.ClaimLink)
	}
	if exec.authorized != 1 {
		t.Fatalf("expected one authorization, got %d", exec.authorized)
	}

	history, err := svc.History(context.Background(), "0xsender")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].GiftID != res.Gift.ID {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[0].GiftSummary != "25 USDC" {
		t.Fatalf("unexpected summary %q", history[0].GiftSummary)
	}

	// A second gift gets a distinct id.
	res2, err := svc.CreateGift(context.Background(), tokenRequest())
	if err != nil {
		t.Fatalf("create second gift: %v", err)
	}
	if res2.Gift.ID == res.Gift.ID {
		t.Fatal("gift ids must be unique")
	}
}

func TestCreateGiftNFTSkipsAuthorization(t *testing.T) {
	exec := &countingExecutor{}
	svc := newService(t, Deps{Executor: exec})

	req := CreateRequest{
		SenderAddress: "0xsender",
		Type:          gift.TypeNFT,
		NFT:           &gift.NFTDetails{Name: "CryptoCat #7", Address: "0xnft"},
		Theme:         "celebration",
	}
	if _, err := svc.CreateGift(context.Background(), req); err != nil {
		t.Fatalf("create nft gift: %v", err)
	}
	if exec.authorized != 0 {
		t.Fatalf("nft gift must not authorize a token draw, got %d", exec.authorized)
	}
}

func TestCreateGiftValidation(t *testing.T) {
	svc := newService(t, Deps{})
	ctx := context.Background()

	cases := []struct {
		name string
		mut  func(*CreateRequest)
		want error
	}{
		{"no sender", func(r *CreateRequest) { r.SenderAddress = " " }, ErrWalletNotConnected},
		{"bad theme", func(r *CreateRequest) { r.Theme = "funeral" }, ErrInvalidGiftSpec},
		{"bad amount", func(r *CreateRequest) { r.Token.Amount = "1e5" }, ErrInvalidGiftSpec},
		{"zero amount", func(r *CreateRequest) { r.Token.Amount = "0.00" }, ErrInvalidGiftSpec},
		{"no token details", func(r *CreateRequest) { r.Token = nil }, ErrInvalidGiftSpec},
		{"unnamed token", func(r *CreateRequest) { r.Token.Name = " " }, ErrInvalidGiftSpec},
		{"token with nft details", func(r *CreateRequest) {
			r.NFT = &gift.NFTDetails{Name: "CryptoCat #7", Address: "0xnft"}
		}, ErrInvalidGiftSpec},
		{"nft with token details", func(r *CreateRequest) {
			r.Type = gift.TypeNFT
			r.NFT = &gift.NFTDetails{Name: "CryptoCat #7", Address: "0xnft"}
		}, ErrInvalidGiftSpec},
		{"email without recipient", func(r *CreateRequest) { r.DeliveryMethod = gift.DeliveryEmail }, ErrInvalidGiftSpec},
		{"unknown delivery", func(r *CreateRequest) { r.DeliveryMethod = "pigeon" }, ErrInvalidGiftSpec},
	}
	for _, tc := range cases {
		req := tokenRequest()
		tc.mut(&req)
		if _, err := svc.CreateGift(ctx, req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestCreateGiftAuthorizationFailureLeavesNoRecord(t *testing.T) {
	store := memory.New()
	exec := &countingExecutor{authErr: errors.New("escrow refused")}
	svc := newService(t, Deps{Gifts: store, Settlements: store, Sessions: store, Executor: exec})

	_, err := svc.CreateGift(context.Background(), tokenRequest())
	if !errors.Is(err, ErrSettlementAuthorizationFailed) {
		t.Fatalf("expected ErrSettlementAuthorizationFailed, got %v", err)
	}

	history, err := svc.History(context.Background(), "0xsender")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history after refused authorization, got %+v", history)
	}
}

func TestCreateGiftMailFailureIsNotFatal(t *testing.T) {
	svc := newService(t, Deps{Mail: failingMailer{err: errors.New("relay down")}})

	req := tokenRequest()
	req.DeliveryMethod = gift.DeliveryEmail
	req.RecipientEmail = "alice@example.com"

	res, err := svc.CreateGift(context.Background(), req)
	if err != nil {
		t.Fatalf("create gift: %v", err)
	}
	if res.MailError == "" {
		t.Fatal("expected mail error to surface in result")
	}
	if _, err := svc.GetGift(context.Background(), res.Gift.ID); err != nil {
		t.Fatalf("gift must exist despite mail failure: %v", err)
	}
}

func TestClaim(t *testing.T) {
	store := memory.New()
	exec := &countingExecutor{}
	svc := newService(t, Deps{Gifts: store, Settlements: store, Sessions: store, Executor: exec})
	ctx := context.Background()

	res, err := svc.CreateGift(ctx, tokenRequest())
	if err != nil {
		t.Fatalf("create gift: %v", err)
	}

	claimed, err := svc.Claim(ctx, res.Gift.ID, "sess1", "0xclaimant")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != gift.StatusClaimed || claimed.ClaimedBy != "0xclaimant" {
		t.Fatalf("unexpected claimed gift: %+v", claimed)
	}
	if exec.settled != 1 {
		t.Fatalf("expected one settlement, got %d", exec.settled)
	}
	want := []string{"0xclaimant", "0xtoken", "25"}
	if strings.Join(exec.lastSettle, ",") != strings.Join(want, ",") {
		t.Fatalf("settle called with %v, want %v", exec.lastSettle, want)
	}

	// The journal ends reconciled.
	records, err := store.ListUnreconciled(ctx)
	if err != nil {
		t.Fatalf("list unreconciled: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected reconciled journal, got %+v", records)
	}

	// A repeat claim fails without another settlement.
	if _, err := svc.Claim(ctx, res.Gift.ID, "sess2", "0xother"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if exec.settled != 1 {
		t.Fatalf("repeat claim must not settle again, got %d settlements", exec.settled)
	}
}

func TestClaimRequiresWallet(t *testing.T) {
	svc := newService(t, Deps{})
	if _, err := svc.Claim(context.Background(), "anything", "sess", "  "); !errors.Is(err, ErrWalletNotConnected) {
		t.Fatalf("expected ErrWalletNotConnected, got %v", err)
	}
}

func TestClaimUnknownGift(t *testing.T) {
	svc := newService(t, Deps{})
	if _, err := svc.Claim(context.Background(), "nope", "sess", "0xclaimant"); !errors.Is(err, ErrGiftNotFound) {
		t.Fatalf("expected ErrGiftNotFound, got %v", err)
	}
}

func TestClaimVerificationFlow(t *testing.T) {
	store := memory.New()
	exec := &countingExecutor{}
	verifier := identity.New(staticProvider{handle: "@Alice"}, nil)
	svc := newService(t, Deps{Gifts: store, Settlements: store, Sessions: store, Executor: exec, Identity: verifier})
	ctx := context.Background()

	req := tokenRequest()
	req.VerificationTwitterHandle = "@alice"
	res, err := svc.CreateGift(ctx, req)
	if err != nil {
		t.Fatalf("create gift: %v", err)
	}

	// Claiming before verifying is refused and nothing settles.
	if _, err := svc.Claim(ctx, res.Gift.ID, "sess1", "0xclaimant"); !errors.Is(err, ErrVerificationRequired) {
		t.Fatalf("expected ErrVerificationRequired, got %v", err)
	}
	if exec.settled != 0 {
		t.Fatalf("unverified claim must not settle, got %d", exec.settled)
	}

	vres, err := svc.VerifyRecipient(ctx, res.Gift.ID, "sess1", "proof-token")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !vres.Verified {
		t.Fatalf("expected verification to pass: %+v", vres)
	}

	// Verification is session scoped.
	if _, err := svc.Claim(ctx, res.Gift.ID, "other-session", "0xclaimant"); !errors.Is(err, ErrVerificationRequired) {
		t.Fatalf("expected ErrVerificationRequired for other session, got %v", err)
	}

	if _, err := svc.Claim(ctx, res.Gift.ID, "sess1", "0xclaimant"); err != nil {
		t.Fatalf("claim after verify: %v", err)
	}
}

func TestVerifyMismatchedHandle(t *testing.T) {
	verifier := identity.New(staticProvider{handle: "mallory"}, nil)
	svc := newService(t, Deps{Identity: verifier})
	ctx := context.Background()

	req := tokenRequest()
	req.VerificationTwitterHandle = "alice"
	res, err := svc.CreateGift(ctx, req)
	if err != nil {
		t.Fatalf("create gift: %v", err)
	}

	vres, err := svc.VerifyRecipient(ctx, res.Gift.ID, "sess1", "proof-token")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if vres.Verified {
		t.Fatal("mismatched handle must not verify")
	}
	if _, err := svc.Claim(ctx, res.Gift.ID, "sess1", "0xclaimant"); !errors.Is(err, ErrVerificationRequired) {
		t.Fatalf("expected ErrVerificationRequired, got %v", err)
	}
}

func TestVerifyWithoutRequirementIsTrivial(t *testing.T) {
	svc := newService(t, Deps{})
	ctx := context.Background()

	res, err := svc.CreateGift(ctx, tokenRequest())
	if err != nil {
		t.Fatalf("create gift: %v", err)
	}
	vres, err := svc.VerifyRecipient(ctx, res.Gift.ID, "sess1", "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !vres.Verified {
		t.Fatal("gift without handle requirement must verify trivially")
	}
}

func TestClaimSettlementFailure(t *testing.T) {
	store := memory.New()
	exec := &countingExecutor{settleErr: fmt.Errorf("%w: insufficient escrow", settlement.ErrRejected)}
	svc := newService(t, Deps{Gifts: store, Settlements: store, Sessions: store, Executor: exec})
	ctx := context.Background()

	res, err := svc.CreateGift(ctx, tokenRequest())
	if err != nil {
		t.Fatalf("create gift: %v", err)
	}

	_, err = svc.Claim(ctx, res.Gift.ID, "sess1", "0xclaimant")
	if !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("expected ErrSettlementFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "insufficient escrow") {
		t.Fatalf("executor message lost: %v", err)
	}

	// The gift stays claimable and a later attempt succeeds.
	exec.settleErr = nil
	if _, err := svc.Claim(ctx, res.Gift.ID, "sess1", "0xclaimant"); err != nil {
		t.Fatalf("retry claim: %v", err)
	}
}

func TestClaimPostSettlementUpdateFailure(t *testing.T) {
	inner := memory.New()
	store := &claimFailStore{Store: inner, fail: true}
	exec := &countingExecutor{}
	svc := newService(t, Deps{Gifts: store, Settlements: inner, Sessions: inner, Executor: exec})
	ctx := context.Background()

	res, err := svc.CreateGift(ctx, tokenRequest())
	if err != nil {
		t.Fatalf("create gift: %v", err)
	}

	_, err = svc.Claim(ctx, res.Gift.ID, "sess1", "0xclaimant")
	if !errors.Is(err, ErrPostSettlementUpdateFailed) {
		t.Fatalf("expected ErrPostSettlementUpdateFailed, got %v", err)
	}
	if exec.settled != 1 {
		t.Fatalf("expected the settlement to have happened, got %d", exec.settled)
	}

	// The confirmed transfer stays in the journal for the reconciler.
	records, err := inner.ListUnreconciled(ctx)
	if err != nil {
		t.Fatalf("list unreconciled: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one unreconciled record, got %d", len(records))
	}
	rec := records[0]
	if rec.GiftID != res.Gift.ID || rec.Recipient != "0xclaimant" || rec.Status != settlementdomain.StatusConfirmed {
		t.Fatalf("unexpected journal record: %+v", rec)
	}

	// The gift record never flipped, so no funds can be claimed twice once
	// the store recovers: the reconciler replays the recorded claimant.
	store.release()
	g, err := inner.GetGift(ctx, res.Gift.ID)
	if err != nil {
		t.Fatalf("get gift: %v", err)
	}
	if g.Claimed() {
		t.Fatalf("gift record should still be unclaimed: %+v", g)
	}
}

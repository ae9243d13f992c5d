// Package identity verifies that a claimant controls the social handle the
// sender attached to a gift.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wowgifts/giftlink/pkg/logger"
)

// Errors the verification flow distinguishes for callers.
var (
	// ErrProofMissing: the claimant abandoned or never completed the identity
	// flow, so there is nothing to check.
	ErrProofMissing = errors.New("identity proof missing")
	// ErrProvider: the identity provider could not be consulted.
	ErrProvider = errors.New("identity provider unavailable")
)

// Provider resolves an opaque proof token from the claimant's identity flow
// into the handle it belongs to.
type Provider interface {
	ResolveHandle(ctx context.Context, proof string) (string, error)
}

// Result is the outcome of a verification attempt. A handle mismatch is a
// negative result, not an error.
type Result struct {
	Verified bool   `json:"verified"`
	Handle   string `json:"handle,omitempty"`
}

// Service compares provider-attested handles against gift requirements.
type Service struct {
	provider Provider
	log      *logger.Logger
}

// New constructs a Service backed by the given provider.
func New(provider Provider, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("identity")
	}
	return &Service{provider: provider, log: log}
}

// NormalizeHandle strips a leading @ and lowercases, so sender input and
// provider output compare equal regardless of how either was typed.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// Verify checks the proof against the required handle. An empty proof is
// ErrProofMissing; provider failures are ErrProvider; a resolvable proof for
// the wrong handle yields Verified: false with no error.
func (s *Service) Verify(ctx context.Context, requiredHandle, proof string) (Result, error) {
	if strings.TrimSpace(proof) == "" {
		return Result{}, ErrProofMissing
	}

	attested, err := s.provider.ResolveHandle(ctx, proof)
	if err != nil {
		s.log.WithError(err).Warn("identity provider lookup failed")
		return Result{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	attested = NormalizeHandle(attested)
	if attested == "" || attested != NormalizeHandle(requiredHandle) {
		s.log.WithField("attested", attested).Debug("handle mismatch")
		return Result{Verified: false, Handle: attested}, nil
	}
	return Result{Verified: true, Handle: attested}, nil
}

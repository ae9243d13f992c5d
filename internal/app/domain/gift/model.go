// Package gift defines the core domain types of the gift platform: the gift
// record itself, the sender-scoped history entry, and the shareable-link
// codec. Field names mirror the persisted document schema.
package gift

import (
	"fmt"
	"strings"
	"time"
)

// Theme selects the presentation and claim route of a gift.
type Theme string

const (
	ThemeBirthday    Theme = "birthday"
	ThemeAnniversary Theme = "anniversary"
	ThemeCelebration Theme = "celebration"
	ThemeHoliday     Theme = "holiday"
)

// Themes lists every supported theme.
func Themes() []Theme {
	return []Theme{ThemeBirthday, ThemeAnniversary, ThemeCelebration, ThemeHoliday}
}

// ParseTheme normalises a raw theme string into a known Theme.
func ParseTheme(raw string) (Theme, error) {
	theme := Theme(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Themes() {
		if theme == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown theme %q", raw)
}

// Type distinguishes fungible-token gifts from NFT gifts.
type Type string

const (
	TypeToken Type = "token"
	TypeNFT   Type = "nft"
)

// Status is the one-way lifecycle state of a persisted gift.
type Status string

const (
	StatusCreated Status = "created"
	StatusClaimed Status = "claimed"
)

// DeliveryMethod is how the claim link reaches the recipient.
type DeliveryMethod string

const (
	DeliveryLink  DeliveryMethod = "link"
	DeliveryEmail DeliveryMethod = "email"
)

// TokenDetails describes a fungible-token gift. Amount is a positive decimal
// string; it is never represented as a float.
type TokenDetails struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Image   string `json:"image,omitempty"`
	Amount  string `json:"amount"`
}

// NFTDetails describes an NFT gift.
type NFTDetails struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Image   string `json:"image,omitempty"`
}

// Gift is the persisted gift record. The ID doubles as the capability token
// for viewing and claiming; exactly one of Token/NFT is set.
type Gift struct {
	ID                        string         `json:"giftId"`
	SenderAddress             string         `json:"senderAddress"`
	Type                      Type           `json:"giftType"`
	Token                     *TokenDetails  `json:"tokenDetails,omitempty"`
	NFT                       *NFTDetails    `json:"nftDetails,omitempty"`
	Message                   string         `json:"message"`
	Theme                     Theme          `json:"theme"`
	DeliveryMethod            DeliveryMethod `json:"deliveryMethod"`
	RecipientEmail            string         `json:"recipientEmail,omitempty"`
	VerificationTwitterHandle string         `json:"verificationTwitterHandle,omitempty"`
	GeneratedLink             string         `json:"generatedLink,omitempty"`
	Status                    Status         `json:"status"`
	ClaimedBy                 string         `json:"claimedBy,omitempty"`
	CreatedAt                 time.Time      `json:"createdAt"`
	ClaimedAt                 time.Time      `json:"claimedAt,omitempty"`
}

// Claimed reports whether the gift has reached its terminal state.
func (g Gift) Claimed() bool { return g.Status == StatusClaimed }

// RequiresVerification reports whether a claimant must still prove control of
// the sender-specified handle. A claimed gift counts as verified: the claim
// could not have happened otherwise.
func (g Gift) RequiresVerification() bool {
	return g.VerificationTwitterHandle != "" && !g.Claimed()
}

// SettleAmount is the amount handed to the settlement executor. NFT gifts
// settle a single asset.
func (g Gift) SettleAmount() string {
	if g.Type == TypeToken && g.Token != nil {
		return g.Token.Amount
	}
	return "1"
}

// AssetAddress is the contract address of whichever asset the gift carries.
func (g Gift) AssetAddress() string {
	if g.Type == TypeToken && g.Token != nil {
		return g.Token.Address
	}
	if g.NFT != nil {
		return g.NFT.Address
	}
	return ""
}

// Summary is the one-line description used in history entries, composed the
// same way the sender-facing history view expects it.
func (g Gift) Summary() string {
	if g.Type == TypeToken && g.Token != nil {
		return g.Token.Amount + " " + g.Token.Name
	}
	if g.NFT != nil {
		return g.NFT.Name
	}
	return ""
}

// ValidAmount reports whether s is a positive decimal string such as "10" or
// "0.01". Exponents, signs and fraction syntax are rejected.
func ValidAmount(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && !hasFrac {
		return false
	}
	if whole != "" && !allDigits(whole) {
		return false
	}
	if hasFrac && (frac == "" || !allDigits(frac)) {
		return false
	}
	return strings.Trim(whole+frac, "0") != ""
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// HistoryEntry is the denormalised per-sender summary written alongside each
// gift record. It is never mutated after creation.
type HistoryEntry struct {
	GiftID        string    `json:"giftId"`
	SenderAddress string    `json:"-"`
	Theme         Theme     `json:"theme"`
	RecipientInfo string    `json:"recipientInfo"`
	GiftSummary   string    `json:"giftSummary"`
	Link          string    `json:"link"`
	CreatedAt     time.Time `json:"createdAt"`
}

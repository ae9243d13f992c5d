package gift

import "testing"

func TestParseTheme(t *testing.T) {
	for _, raw := range []string{"birthday", " Birthday ", "BIRTHDAY"} {
		theme, err := ParseTheme(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if theme != ThemeBirthday {
			t.Fatalf("parse %q: got %q", raw, theme)
		}
	}
	if _, err := ParseTheme("wake"); err == nil {
		t.Fatal("expected error for unknown theme")
	}
}

func TestValidAmount(t *testing.T) {
	valid := []string{"1", "25", "0.5", ".5", "0.000001", "10.25", " 3 "}
	for _, s := range valid {
		if !ValidAmount(s) {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	invalid := []string{"", "0", "0.0", "00.00", "-1", "+1", "1e5", "1.", ".", "1,5", "1/2", "abc", "1.2.3"}
	for _, s := range invalid {
		if ValidAmount(s) {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}

func TestRequiresVerification(t *testing.T) {
	g := Gift{VerificationTwitterHandle: "alice", Status: StatusCreated}
	if !g.RequiresVerification() {
		t.Fatal("handle-bearing unclaimed gift must require verification")
	}

	g.Status = StatusClaimed
	if g.RequiresVerification() {
		t.Fatal("claimed gift is implicitly verified")
	}

	plain := Gift{Status: StatusCreated}
	if plain.RequiresVerification() {
		t.Fatal("gift without a handle never requires verification")
	}
}

func TestSettleAmountAndSummary(t *testing.T) {
	token := Gift{Type: TypeToken, Token: &TokenDetails{Name: "USDC", Amount: "25"}}
	if token.SettleAmount() != "25" {
		t.Fatalf("token settle amount: %q", token.SettleAmount())
	}
	if token.Summary() != "25 USDC" {
		t.Fatalf("token summary: %q", token.Summary())
	}

	nft := Gift{Type: TypeNFT, NFT: &NFTDetails{Name: "CryptoCat #7", Address: "0xnft"}}
	if nft.SettleAmount() != "1" {
		t.Fatalf("nft settle amount: %q", nft.SettleAmount())
	}
	if nft.Summary() != "CryptoCat #7" {
		t.Fatalf("nft summary: %q", nft.Summary())
	}
	if nft.AssetAddress() != "0xnft" {
		t.Fatalf("nft asset address: %q", nft.AssetAddress())
	}
}

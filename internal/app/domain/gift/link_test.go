package gift

import (
	"errors"
	"testing"
)

func TestEncodeDecodeLink(t *testing.T) {
	link, err := EncodeLink(ThemeHoliday, "abc123")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if link != "/gifts/holiday?id=abc123" {
		t.Fatalf("unexpected link %q", link)
	}

	for _, want := range Themes() {
		link, err := EncodeLink(want, "abc123")
		if err != nil {
			t.Fatalf("encode %s: %v", want, err)
		}
		theme, id, err := DecodeLink(link)
		if err != nil {
			t.Fatalf("decode %s: %v", want, err)
		}
		if theme != want || id != "abc123" {
			t.Fatalf("round-trip %s: theme=%q id=%q", want, theme, id)
		}
	}
}

func TestDecodeLinkAbsoluteURL(t *testing.T) {
	theme, id, err := DecodeLink("https://gifts.example.com/gifts/birthday?id=deadbeef")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if theme != ThemeBirthday || id != "deadbeef" {
		t.Fatalf("decode absolute: theme=%q id=%q", theme, id)
	}
}

func TestDecodeLinkMissingID(t *testing.T) {
	if _, _, err := DecodeLink("/gifts/birthday"); !errors.Is(err, ErrMissingGiftID) {
		t.Fatalf("expected ErrMissingGiftID, got %v", err)
	}
}

func TestDecodeLinkRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"/presents/birthday?id=x", "/gifts/wake?id=x", ""} {
		if _, _, err := DecodeLink(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestEncodeLinkValidation(t *testing.T) {
	if _, err := EncodeLink(Theme("wake"), "abc"); err == nil {
		t.Fatal("expected error for unknown theme")
	}
	if _, err := EncodeLink(ThemeBirthday, "  "); !errors.Is(err, ErrMissingGiftID) {
		t.Fatalf("expected ErrMissingGiftID for blank id")
	}
}

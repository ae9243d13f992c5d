package gift

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMissingGiftID is returned when a claim link carries no id parameter.
var ErrMissingGiftID = errors.New("gift id missing")

const linkPathPrefix = "/gifts/"

// EncodeLink renders the shareable URL path for a gift. The theme must be one
// of the supported values; callers resolve it with ParseTheme first.
func EncodeLink(theme Theme, giftID string) (string, error) {
	if _, err := ParseTheme(string(theme)); err != nil {
		return "", err
	}
	if strings.TrimSpace(giftID) == "" {
		return "", ErrMissingGiftID
	}
	return linkPathPrefix + string(theme) + "?id=" + url.QueryEscape(giftID), nil
}

// DecodeLink recovers the (theme, giftID) pair from a link produced by
// EncodeLink. It accepts both bare paths and absolute URLs.
func DecodeLink(raw string) (Theme, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse link: %w", err)
	}

	path := strings.TrimSuffix(parsed.Path, "/")
	idx := strings.LastIndex(path, linkPathPrefix)
	if idx < 0 {
		return "", "", fmt.Errorf("not a gift link: %s", raw)
	}
	theme, err := ParseTheme(path[idx+len(linkPathPrefix):])
	if err != nil {
		return "", "", err
	}

	giftID := parsed.Query().Get("id")
	if giftID == "" {
		return "", "", ErrMissingGiftID
	}
	return theme, giftID, nil
}

// Package mailer delivers gift notification email through a mail relay. Mail
// is best-effort: the lifecycle engine reports failures to the sender but
// never unwinds a created gift over them.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wowgifts/giftlink/internal/app/domain/gift"
	"github.com/wowgifts/giftlink/pkg/logger"
)

// Message is one outbound email.
type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html"`
}

// Mailer queues a message for delivery.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// GiftMessage composes the notification email for a created gift. claimURL is
// the absolute link the recipient follows.
func GiftMessage(g gift.Gift, claimURL string) Message {
	subject := fmt.Sprintf("You received a %s gift!", g.Theme)
	text := fmt.Sprintf("Someone sent you %s. Open your gift: %s", g.Summary(), claimURL)
	if g.Message != "" {
		text = fmt.Sprintf("%q\n\n%s", g.Message, text)
	}

	var b strings.Builder
	b.WriteString("<p>Someone sent you <strong>" + html.EscapeString(g.Summary()) + "</strong>.</p>")
	if g.Message != "" {
		b.WriteString("<blockquote>" + html.EscapeString(g.Message) + "</blockquote>")
	}
	b.WriteString(`<p><a href="` + html.EscapeString(claimURL) + `">Open your gift</a></p>`)

	return Message{
		To:      []string{g.RecipientEmail},
		Subject: subject,
		Text:    text,
		HTML:    b.String(),
	}
}

// HTTPMailer posts messages to a mail relay endpoint.
type HTTPMailer struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewHTTPMailer constructs a mailer using the given relay endpoint.
func NewHTTPMailer(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPMailer, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("mail endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse mail endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("mailer")
	}
	return &HTTPMailer{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

var _ Mailer = (*HTTPMailer)(nil)

// Send posts the message to the relay.
func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("message has no recipient")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("mail relay status %d", resp.StatusCode)
	}
	m.log.WithField("subject", msg.Subject).Debug("mail queued")
	return nil
}

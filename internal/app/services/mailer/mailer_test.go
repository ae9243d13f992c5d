package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wowgifts/giftlink/internal/app/domain/gift"
)

func TestGiftMessage(t *testing.T) {
	g := gift.Gift{
		ID:             "g1",
		Type:           gift.TypeToken,
		Token:          &gift.TokenDetails{Name: "USDC", Amount: "25"},
		Message:        "happy birthday <3",
		Theme:          gift.ThemeBirthday,
		RecipientEmail: "alice@example.com",
		CreatedAt:      time.Now().UTC(),
	}

	msg := GiftMessage(g, "https://gifts.example.com/gifts/birthday?id=g1")
	if len(msg.To) != 1 || msg.To[0] != "alice@example.com" {
		t.Fatalf("unexpected recipients: %v", msg.To)
	}
	if !strings.Contains(msg.Subject, "birthday") {
		t.Fatalf("subject missing theme: %q", msg.Subject)
	}
	if !strings.Contains(msg.Text, "25 USDC") || !strings.Contains(msg.Text, "id=g1") {
		t.Fatalf("text missing summary or link: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "happy birthday <3") {
		t.Fatalf("text missing sender message: %q", msg.Text)
	}
	if strings.Contains(msg.HTML, "<3") {
		t.Fatalf("sender message not escaped in HTML: %q", msg.HTML)
	}
}

func TestHTTPMailerSend(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode mail: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m, err := NewHTTPMailer(srv.Client(), srv.URL, "mail-key", nil)
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}

	msg := Message{To: []string{"alice@example.com"}, Subject: "hi", Text: "hello"}
	if err := m.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Subject != "hi" || len(got.To) != 1 {
		t.Fatalf("relay received unexpected message: %+v", got)
	}
}

func TestHTTPMailerRelayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m, err := NewHTTPMailer(srv.Client(), srv.URL, "", nil)
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}
	if err := m.Send(context.Background(), Message{To: []string{"a@example.com"}}); err == nil {
		t.Fatal("expected relay failure")
	}
}

func TestHTTPMailerRequiresRecipient(t *testing.T) {
	m, err := NewHTTPMailer(nil, "https://mail.example.com/send", "", nil)
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}
	if err := m.Send(context.Background(), Message{Subject: "no one"}); err == nil {
		t.Fatal("expected error for missing recipient")
	}
}

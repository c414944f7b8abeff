package instructor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"openlms/internal/i18n"
	"openlms/internal/mailer"
)

func loadCatalog(t *testing.T) *i18n.Catalog {
	t.Helper()
	catalog, err := i18n.Load("en")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return catalog
}

func TestComposeNotificationFrenchPreference(t *testing.T) {
	catalog := loadCatalog(t)
	lang := catalog.Resolve("fr")

	msg := composeNotification(catalog, lang, "enroll", "Robot Super Course", "OpenLMS", "student@example.com")

	if msg.Language != "fr" {
		t.Fatalf("expected fr, got %q", msg.Language)
	}
	if !strings.Contains(msg.Subject, "Vous avez été") {
		t.Fatalf("expected French subject, got %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Vous avez été") {
		t.Fatalf("expected French body, got %q", msg.Body)
	}
	if !strings.Contains(msg.Subject, "Robot Super Course") {
		t.Fatalf("expected course name in subject, got %q", msg.Subject)
	}
	if msg.ID == "" {
		t.Fatalf("expected a message id")
	}
}

func TestComposeNotificationDefaultLanguage(t *testing.T) {
	catalog := loadCatalog(t)

	msg := composeNotification(catalog, catalog.DefaultLanguage(), "unenroll", "Robot Super Course", "OpenLMS", "student@example.com")

	if msg.Language != "en" {
		t.Fatalf("expected en, got %q", msg.Language)
	}
	if !strings.Contains(msg.Subject, "You have been unenrolled") {
		t.Fatalf("expected English subject, got %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "OpenLMS") {
		t.Fatalf("expected platform name in body, got %q", msg.Body)
	}
}

func TestComposeNotificationUnknownPreferenceFallsBack(t *testing.T) {
	catalog := loadCatalog(t)
	lang := catalog.Resolve("tlh")

	msg := composeNotification(catalog, lang, "enroll", "Robot Super Course", "OpenLMS", "student@example.com")

	if msg.Language != "en" {
		t.Fatalf("expected fallback to en, got %q", msg.Language)
	}
	if !strings.Contains(msg.Subject, "You have been enrolled") {
		t.Fatalf("expected English subject, got %q", msg.Subject)
	}
}

func TestNotifyEmailSendsExactlyOneMessage(t *testing.T) {
	catalog := loadCatalog(t)
	outbox := mailer.NewOutbox()
	svc := &Service{catalog: catalog, sender: outbox, platform: "OpenLMS"}

	svc.notifyEmail(context.Background(), "newcomer@example.com", "invite", "Robot Super Course")

	msgs := outbox.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(msgs))
	}
	if msgs[0].To != "newcomer@example.com" {
		t.Fatalf("unexpected recipient %q", msgs[0].To)
	}
	if msgs[0].Language != "en" {
		t.Fatalf("unknown recipients get the default language, got %q", msgs[0].Language)
	}
	if !strings.Contains(msgs[0].Subject, "You have been invited") {
		t.Fatalf("unexpected subject %q", msgs[0].Subject)
	}
}

type failingSender struct{}

func (failingSender) Send(ctx context.Context, msg mailer.Message) error {
	return errors.New("relay down")
}

func TestDeliverSwallowsSendFailures(t *testing.T) {
	catalog := loadCatalog(t)
	svc := &Service{catalog: catalog, sender: failingSender{}, platform: "OpenLMS"}

	// Must not panic or propagate; the enrollment change already happened.
	svc.notifyEmail(context.Background(), "someone@example.com", "invite", "Robot Super Course")
}

func TestParseIdentifiers(t *testing.T) {
	got := ParseIdentifiers("alice, bob\ncarol@example.com;  dave\tBob")
	want := []string{"alice", "bob", "carol@example.com", "dave"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

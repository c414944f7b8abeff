package instructor

import (
	"context"
	"log"

	"openlms/internal/auth"
	"openlms/internal/i18n"
	"openlms/internal/mailer"
)

// notifyStudent emails a known user in the language of their pref-lang
// preference, falling back to the platform default when the preference is
// missing or names a language without a catalog.
func (s *Service) notifyStudent(ctx context.Context, ref *studentRef, kind, courseName string) {
	if ref == nil || ref.email == "" {
		return
	}
	lang := s.catalog.DefaultLanguage()
	if pref, err := s.preference(ctx, ref.id, auth.PrefLanguageKey); err == nil {
		lang = s.catalog.Resolve(pref)
	}
	s.deliver(ctx, composeNotification(s.catalog, lang, kind, courseName, s.platform, ref.email))
}

// notifyEmail covers recipients without an account; they always get the
// platform default language.
func (s *Service) notifyEmail(ctx context.Context, email, kind, courseName string) {
	s.deliver(ctx, composeNotification(s.catalog, s.catalog.DefaultLanguage(), kind, courseName, s.platform, email))
}

func composeNotification(catalog *i18n.Catalog, lang, kind, courseName, platform, to string) mailer.Message {
	data := map[string]string{
		"Course":   courseName,
		"Platform": platform,
	}
	subject := catalog.T(lang, "email."+kind+".subject", data)
	body := catalog.T(lang, "email."+kind+".body", data)
	return mailer.NewMessage(to, subject, body, lang)
}

// deliver sends best-effort: a mail failure is logged, never surfaced, so
// enrollment changes stick regardless of the relay.
func (s *Service) deliver(ctx context.Context, msg mailer.Message) {
	if s.sender == nil {
		return
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		log.Printf("instructor mail send failed: to=%s lang=%s err=%v", msg.To, msg.Language, err)
	}
}

func (s *Service) preference(ctx context.Context, userID int64, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT pref_value
		FROM user_preferences
		WHERE user_id = $1 AND pref_key = $2
		LIMIT 1
	`, userID, key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

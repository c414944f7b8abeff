package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("too many requests")
	ErrUserNotFound       = errors.New("user not found")
)

// PrefLanguageKey is the preference slot holding a user's language tag.
const PrefLanguageKey = "pref-lang"

type Service struct {
	db                *sql.DB
	sessionTTL        time.Duration
	bcryptCost        int
	loginMaxFailures  int
	loginLockDuration time.Duration
	onUserCreated     UserCreatedHook
}

// UserCreatedHook runs inside the user-creation transaction after the row
// is inserted. The enrollment package uses it to claim pending enrollment
// invitations for the new account's email address.
type UserCreatedHook func(ctx context.Context, tx *sql.Tx, userID int64, email string) error

type ServiceConfig struct {
	SessionTTL        time.Duration
	BcryptCost        int
	LoginMaxFailures  int
	LoginLockDuration time.Duration
	OnUserCreated     UserCreatedHook
}

type User struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    *string `json:"email,omitempty"`
	FullName string  `json:"full_name"`
	Role     string  `json:"role"`
	IsActive bool    `json:"is_active"`
}

type CreateUserInput struct {
	Username string
	Email    string
	Password string
	FullName string
	Role     string
	Language string
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.LoginMaxFailures <= 0 {
		cfg.LoginMaxFailures = 5
	}
	if cfg.LoginLockDuration <= 0 {
		cfg.LoginLockDuration = 15 * time.Minute
	}

	return &Service{
		db:                db,
		sessionTTL:        cfg.SessionTTL,
		bcryptCost:        cfg.BcryptCost,
		loginMaxFailures:  cfg.LoginMaxFailures,
		loginLockDuration: cfg.LoginLockDuration,
		onUserCreated:     cfg.OnUserCreated,
	}
}

func (s *Service) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	guardKey := normalizeGuardKey(identifier)
	locked, _, err := s.isGuardLocked(ctx, "password_login", guardKey)
	if err != nil {
		return nil, fmt.Errorf("check login guard: %w", err)
	}
	if locked {
		return nil, ErrRateLimited
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, role, is_active, password_hash
		FROM users
		WHERE username = $1 OR email = $1
		LIMIT 1
	`, identifier)

	var u User
	var email sql.NullString
	var passwordHash string
	if err := row.Scan(&u.ID, &u.Username, &email, &u.FullName, &u.Role, &u.IsActive, &passwordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = s.registerFailure(ctx, "password_login", guardKey)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if email.Valid {
		u.Email = &email.String
	}

	if !u.IsActive {
		_ = s.registerFailure(ctx, "password_login", guardKey)
		return nil, ErrForbidden
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		_ = s.registerFailure(ctx, "password_login", guardKey)
		return nil, ErrInvalidCredentials
	}

	_ = s.clearGuard(ctx, "password_login", guardKey)
	return &u, nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	tokenHash := hashToken(token)
	expiresAt := time.Now().Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (
			user_id, session_token_hash, expires_at, ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4, $5, now()
		)
	`, userID, tokenHash, expiresAt, nullableString(ipAddress), nullableString(userAgent))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

// GetSessionUser resolves a session token to its user. Deactivating an
// account does not sever sessions that are already established; only
// expiry and revocation end a session.
func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.full_name, u.role, u.is_active
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > now()
		LIMIT 1
	`, hashToken(token))

	var u User
	var email sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &email, &u.FullName, &u.Role, &u.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	if email.Valid {
		u.Email = &email.String
	}
	return &u, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = now()
		WHERE session_token_hash = $1
		  AND revoked_at IS NULL
	`, hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func isValidRole(role string) bool {
	switch role {
	case "student", "staff", "instructor":
		return true
	default:
		return false
	}
}

// CreateUser provisions an account. The created-user hook runs in the same
// transaction, so invitation claims land atomically with the new row.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	fullName := strings.TrimSpace(in.FullName)
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if role == "" {
		role = "student"
	}
	if username == "" || fullName == "" || !isValidRole(role) || len(strings.TrimSpace(in.Password)) < 8 {
		return nil, errors.New("username, full_name, role, and password(>=8) are required")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, errors.New("invalid email")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var out User
	var emailNull sql.NullString
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (
			username, password_hash, full_name, role, is_active,
			email, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, TRUE,
			NULLIF($5,''), now(), now()
		)
		RETURNING id, username, email, full_name, role, is_active
	`, username, string(hash), fullName, role, email).Scan(
		&out.ID, &out.Username, &emailNull, &out.FullName, &out.Role, &out.IsActive,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if emailNull.Valid {
		out.Email = &emailNull.String
	}

	if lang := strings.TrimSpace(in.Language); lang != "" {
		if err := setPreferenceTx(ctx, tx, out.ID, PrefLanguageKey, lang); err != nil {
			return nil, err
		}
	}

	if s.onUserCreated != nil && email != "" {
		if err := s.onUserCreated(ctx, tx, out.ID, email); err != nil {
			return nil, fmt.Errorf("user created hook: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create user: %w", err)
	}
	return &out, nil
}

func (s *Service) DeactivateUser(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return errors.New("invalid user id")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_active = FALSE,
			updated_at = now()
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context, role, q string, limit, offset int) ([]User, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != "" && !isValidRole(role) {
		return nil, errors.New("invalid role filter")
	}
	q = strings.TrimSpace(q)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, full_name, role, is_active
		FROM users
		WHERE ($1 = '' OR role = $1)
		  AND (
			$2 = ''
			OR username ILIKE '%' || $2 || '%'
			OR full_name ILIKE '%' || $2 || '%'
			OR COALESCE(email,'') ILIKE '%' || $2 || '%'
		  )
		ORDER BY created_at DESC, id DESC
		LIMIT $3
		OFFSET $4
	`, role, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0, limit)
	for rows.Next() {
		var u User
		var email sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &email, &u.FullName, &u.Role, &u.IsActive); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if email.Valid {
			u.Email = &email.String
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (s *Service) SetPreference(ctx context.Context, userID int64, key, value string) error {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if userID <= 0 || key == "" {
		return errors.New("user id and preference key are required")
	}
	if value == "" {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM user_preferences
			WHERE user_id = $1 AND pref_key = $2
		`, userID, key)
		if err != nil {
			return fmt.Errorf("clear preference: %w", err)
		}
		return nil
	}
	if err := setPreference(ctx, s.db, userID, key, value); err != nil {
		return err
	}
	return nil
}

func (s *Service) GetPreference(ctx context.Context, userID int64, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT pref_value
		FROM user_preferences
		WHERE user_id = $1 AND pref_key = $2
		LIMIT 1
	`, userID, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query preference: %w", err)
	}
	return value, nil
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrUserNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, role, is_active
		FROM users
		WHERE username = $1
		LIMIT 1
	`, username)

	var u User
	var email sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &email, &u.FullName, &u.Role, &u.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user by username: %w", err)
	}
	if email.Valid {
		u.Email = &email.String
	}
	return &u, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setPreference(ctx context.Context, db execer, userID int64, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, pref_key, pref_value, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (user_id, pref_key)
		DO UPDATE SET
			pref_value = EXCLUDED.pref_value,
			updated_at = now()
	`, userID, key, value)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func setPreferenceTx(ctx context.Context, tx *sql.Tx, userID int64, key, value string) error {
	return setPreference(ctx, tx, userID, key, value)
}

func (s *Service) isGuardLocked(ctx context.Context, purpose, subjectKey string) (bool, time.Time, error) {
	var lockedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT locked_until
		FROM auth_guard_states
		WHERE purpose = $1 AND subject_key = $2
	`, purpose, subjectKey).Scan(&lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	if !lockedUntil.Valid {
		return false, time.Time{}, nil
	}
	if time.Now().Before(lockedUntil.Time) {
		return true, lockedUntil.Time, nil
	}
	return false, lockedUntil.Time, nil
}

func (s *Service) registerFailure(ctx context.Context, purpose, subjectKey string) error {
	var failedCount int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO auth_guard_states (purpose, subject_key, failed_count, updated_at, created_at)
		VALUES ($1, $2, 1, now(), now())
		ON CONFLICT (purpose, subject_key)
		DO UPDATE SET
			failed_count = auth_guard_states.failed_count + 1,
			updated_at = now()
		RETURNING failed_count
	`, purpose, subjectKey).Scan(&failedCount)
	if err != nil {
		return err
	}

	if failedCount >= s.loginMaxFailures {
		_, err = s.db.ExecContext(ctx, `
			UPDATE auth_guard_states
			SET locked_until = now() + ($3 || ' seconds')::interval,
				failed_count = 0,
				updated_at = now()
			WHERE purpose = $1 AND subject_key = $2
		`, purpose, subjectKey, int(s.loginLockDuration.Seconds()))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) clearGuard(ctx context.Context, purpose, subjectKey string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM auth_guard_states
		WHERE purpose = $1 AND subject_key = $2
	`, purpose, subjectKey)
	return err
}

func normalizeGuardKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func nullableString(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

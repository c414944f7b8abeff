// Package instructor implements the course-team operations: bulk enroll
// and unenroll, enrollment invitations for addresses without an account,
// beta tester management, and the roster export.
package instructor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"openlms/internal/course"
	"openlms/internal/enrollment"
	"openlms/internal/i18n"
	"openlms/internal/mailer"
)

var (
	ErrInvalidAction     = errors.New("action must be enroll or unenroll")
	ErrInvalidBetaAction = errors.New("action must be add or remove")
	ErrNoIdentifiers     = errors.New("at least one identifier is required")
)

const betaTesterRole = "beta_testers"

type Service struct {
	db          *sql.DB
	courses     *course.Service
	enrollments *enrollment.Service
	catalog     *i18n.Catalog
	sender      mailer.Sender
	platform    string
}

// StudentState is the per-identifier snapshot reported before and after a
// bulk operation.
type StudentState struct {
	User       bool `json:"user"`
	Enrollment bool `json:"enrollment"`
	Allowed    bool `json:"allowed"`
	AutoEnroll bool `json:"auto_enroll"`
}

type BulkResultRow struct {
	Identifier string        `json:"identifier"`
	Before     *StudentState `json:"before,omitempty"`
	After      *StudentState `json:"after,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type BulkResult struct {
	CourseID string          `json:"course_id"`
	Action   string          `json:"action"`
	Results  []BulkResultRow `json:"results"`
}

type BulkInput struct {
	CourseKey     string
	Action        string
	Identifiers   string
	AutoEnroll    bool
	EmailStudents bool
}

type BetaInput struct {
	CourseKey     string
	Action        string
	Identifiers   string
	AutoEnroll    bool
	EmailStudents bool
}

type studentRef struct {
	id       int64
	username string
	email    string
}

func NewService(db *sql.DB, courses *course.Service, enrollments *enrollment.Service, catalog *i18n.Catalog, sender mailer.Sender, platform string) *Service {
	return &Service{
		db:          db,
		courses:     courses,
		enrollments: enrollments,
		catalog:     catalog,
		sender:      sender,
		platform:    platform,
	}
}

// ParseIdentifiers splits a raw identifier blob on commas, whitespace, and
// newlines, deduplicating while keeping first-seen order.
func ParseIdentifiers(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		key := strings.ToLower(f)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}

// BulkUpdate enrolls or unenrolls each identifier. Identifiers that match
// an account are acted on directly; unknown email addresses become (or
// stop being) enrollment invitations. Every identifier gets a result row,
// failures included, so one bad entry never aborts the batch.
func (s *Service) BulkUpdate(ctx context.Context, in BulkInput) (*BulkResult, error) {
	action := strings.ToLower(strings.TrimSpace(in.Action))
	if action != "enroll" && action != "unenroll" {
		return nil, ErrInvalidAction
	}
	identifiers := ParseIdentifiers(in.Identifiers)
	if len(identifiers) == 0 {
		return nil, ErrNoIdentifiers
	}

	details, err := s.courses.GetDetails(ctx, in.CourseKey)
	if err != nil {
		return nil, err
	}
	courseID, err := s.lookupCourseID(ctx, details.CourseID)
	if err != nil {
		return nil, err
	}

	out := &BulkResult{CourseID: details.CourseID, Action: action, Results: make([]BulkResultRow, 0, len(identifiers))}
	for _, identifier := range identifiers {
		row := BulkResultRow{Identifier: identifier}

		ref, err := s.lookupStudent(ctx, identifier)
		if err != nil {
			row.Error = "could not look up identifier"
			out.Results = append(out.Results, row)
			continue
		}

		if ref != nil {
			s.bulkUpdateUser(ctx, &row, action, ref, courseID, details, in.EmailStudents)
		} else {
			s.bulkUpdateUnknown(ctx, &row, action, identifier, courseID, details, in.AutoEnroll, in.EmailStudents)
		}
		out.Results = append(out.Results, row)
	}
	return out, nil
}

func (s *Service) bulkUpdateUser(ctx context.Context, row *BulkResultRow, action string, ref *studentRef, courseID int64, details *course.Details, emailStudents bool) {
	before, err := s.studentState(ctx, ref, "", courseID)
	if err != nil {
		row.Error = "could not read enrollment state"
		return
	}
	row.Before = before

	switch action {
	case "enroll":
		_, err := s.enrollments.Enroll(ctx, enrollment.EnrollInput{
			UserID:    ref.id,
			Username:  ref.username,
			CourseKey: details.CourseID,
		})
		if err != nil {
			var modeErr *enrollment.ModeNotAvailableError
			if errors.As(err, &modeErr) {
				row.Error = modeErr.Error()
			} else {
				row.Error = "could not enroll user"
			}
			row.After = before
			return
		}
		if emailStudents && !before.Enrollment {
			s.notifyStudent(ctx, ref, "enroll", details.CourseName)
		}
	case "unenroll":
		_, err := s.enrollments.Deactivate(ctx, ref.id, ref.username, details.CourseID)
		if err != nil && !errors.Is(err, enrollment.ErrEnrollmentNotFound) {
			row.Error = "could not unenroll user"
			row.After = before
			return
		}
		if emailStudents && before.Enrollment {
			s.notifyStudent(ctx, ref, "unenroll", details.CourseName)
		}
	}

	after, err := s.studentState(ctx, ref, "", courseID)
	if err != nil {
		row.Error = "could not read enrollment state"
		return
	}
	row.After = after
}

func (s *Service) bulkUpdateUnknown(ctx context.Context, row *BulkResultRow, action, identifier string, courseID int64, details *course.Details, autoEnroll, emailStudents bool) {
	if _, err := mail.ParseAddress(identifier); err != nil {
		row.Error = "identifier is neither a known user nor an email address"
		return
	}
	email := strings.ToLower(identifier)

	before, err := s.studentState(ctx, nil, email, courseID)
	if err != nil {
		row.Error = "could not read invitation state"
		return
	}
	row.Before = before

	switch action {
	case "enroll":
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO enrollment_allowed (course_id, email, auto_enroll, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
			ON CONFLICT (course_id, email)
			DO UPDATE SET
				auto_enroll = EXCLUDED.auto_enroll,
				updated_at = now()
		`, courseID, email, autoEnroll)
		if err != nil {
			row.Error = "could not record invitation"
			row.After = before
			return
		}
		if emailStudents && !before.Allowed {
			s.notifyEmail(ctx, email, "invite", details.CourseName)
		}
	case "unenroll":
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM enrollment_allowed
			WHERE course_id = $1 AND email = $2
		`, courseID, email)
		if err != nil {
			row.Error = "could not remove invitation"
			row.After = before
			return
		}
	}

	after, err := s.studentState(ctx, nil, email, courseID)
	if err != nil {
		row.Error = "could not read invitation state"
		return
	}
	row.After = after
}

// BetaUpdate adds or removes beta testers. Beta access requires an
// existing account, so unknown identifiers are reported as errors rather
// than invited.
func (s *Service) BetaUpdate(ctx context.Context, in BetaInput) (*BulkResult, error) {
	action := strings.ToLower(strings.TrimSpace(in.Action))
	if action != "add" && action != "remove" {
		return nil, ErrInvalidBetaAction
	}
	identifiers := ParseIdentifiers(in.Identifiers)
	if len(identifiers) == 0 {
		return nil, ErrNoIdentifiers
	}

	details, err := s.courses.GetDetails(ctx, in.CourseKey)
	if err != nil {
		return nil, err
	}
	courseID, err := s.lookupCourseID(ctx, details.CourseID)
	if err != nil {
		return nil, err
	}

	out := &BulkResult{CourseID: details.CourseID, Action: action, Results: make([]BulkResultRow, 0, len(identifiers))}
	for _, identifier := range identifiers {
		row := BulkResultRow{Identifier: identifier}

		ref, err := s.lookupStudent(ctx, identifier)
		if err != nil {
			row.Error = "could not look up identifier"
			out.Results = append(out.Results, row)
			continue
		}
		if ref == nil {
			row.Error = "beta testers must have an existing account"
			out.Results = append(out.Results, row)
			continue
		}

		switch action {
		case "add":
			_, err = s.db.ExecContext(ctx, `
				INSERT INTO course_access_roles (course_id, user_id, role, created_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (course_id, user_id, role) DO NOTHING
			`, courseID, ref.id, betaTesterRole)
			if err == nil && in.AutoEnroll {
				_, enrollErr := s.enrollments.Enroll(ctx, enrollment.EnrollInput{
					UserID:    ref.id,
					Username:  ref.username,
					CourseKey: details.CourseID,
				})
				var modeErr *enrollment.ModeNotAvailableError
				if enrollErr != nil && !errors.As(enrollErr, &modeErr) {
					row.Error = "could not auto-enroll beta tester"
				}
			}
			if err == nil && in.EmailStudents {
				s.notifyStudent(ctx, ref, "beta_add", details.CourseName)
			}
		case "remove":
			_, err = s.db.ExecContext(ctx, `
				DELETE FROM course_access_roles
				WHERE course_id = $1 AND user_id = $2 AND role = $3
			`, courseID, ref.id, betaTesterRole)
			if err == nil && in.EmailStudents {
				s.notifyStudent(ctx, ref, "beta_remove", details.CourseName)
			}
		}
		if err != nil {
			row.Error = "could not update beta tester role"
		}
		out.Results = append(out.Results, row)
	}
	return out, nil
}

func (s *Service) RosterExcel(ctx context.Context, courseKey string) ([]byte, error) {
	return s.enrollments.ExportRosterExcel(ctx, courseKey)
}

// studentState snapshots one identifier's standing in a course. Exactly
// one of ref and email is set.
func (s *Service) studentState(ctx context.Context, ref *studentRef, email string, courseID int64) (*StudentState, error) {
	state := &StudentState{}
	if ref != nil {
		state.User = true
		var isActive bool
		err := s.db.QueryRowContext(ctx, `
			SELECT is_active
			FROM enrollments
			WHERE user_id = $1 AND course_id = $2
			LIMIT 1
		`, ref.id, courseID).Scan(&isActive)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("query enrollment state: %w", err)
		}
		state.Enrollment = err == nil && isActive
		email = ref.email
	}

	if email != "" {
		var autoEnroll bool
		err := s.db.QueryRowContext(ctx, `
			SELECT auto_enroll
			FROM enrollment_allowed
			WHERE course_id = $1 AND email = $2
			LIMIT 1
		`, courseID, strings.ToLower(email)).Scan(&autoEnroll)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("query invitation state: %w", err)
		}
		if err == nil {
			state.Allowed = true
			state.AutoEnroll = autoEnroll
		}
	}
	return state, nil
}

// lookupStudent resolves an identifier to a user by username or email.
// A nil result with nil error means no account exists.
func (s *Service) lookupStudent(ctx context.Context, identifier string) (*studentRef, error) {
	identifier = strings.TrimSpace(identifier)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, COALESCE(email, '')
		FROM users
		WHERE username = $1 OR email = lower($1)
		LIMIT 1
	`, identifier)

	var ref studentRef
	if err := row.Scan(&ref.id, &ref.username, &ref.email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup student: %w", err)
	}
	return &ref, nil
}

func (s *Service) lookupCourseID(ctx context.Context, courseKey string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id
		FROM courses
		WHERE course_key = $1
		  AND is_active = TRUE
		LIMIT 1
	`, courseKey).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, course.ErrCourseNotFound
		}
		return 0, fmt.Errorf("lookup course: %w", err)
	}
	return id, nil
}

package enrollment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"openlms/internal/course"
)

var (
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrEnrollmentClosed   = errors.New("enrollment is not currently open for this course")
)

// ModeNotAvailableError is returned when the requested (or defaulted)
// mode is not among the course's selectable modes. It carries the course
// details so the API can show the client what is available.
type ModeNotAvailableError struct {
	Mode    string
	Details *course.Details
}

func (e *ModeNotAvailableError) Error() string {
	return fmt.Sprintf("course mode %q is not available for %s", e.Mode, e.Details.CourseID)
}

type Service struct {
	db      *sql.DB
	courses *course.Service
}

type Enrollment struct {
	User          string          `json:"user"`
	Mode          string          `json:"mode,omitempty"`
	IsActive      bool            `json:"is_active"`
	Created       *time.Time      `json:"created,omitempty"`
	CourseDetails *course.Details `json:"course_details"`
}

type EnrollInput struct {
	UserID    int64
	Username  string
	CourseKey string
	Mode      string
}

type RosterRow struct {
	Username   string
	Email      string
	FullName   string
	Mode       string
	IsActive   bool
	EnrolledAt time.Time
}

func NewService(db *sql.DB, courses *course.Service) *Service {
	return &Service{db: db, courses: courses}
}

// Enroll creates or updates an enrollment. A request without a mode falls
// back to the default mode; restricted modes (professional) are never
// picked implicitly because defaulting only ever selects the default slug.
// Re-enrolling reactivates an inactive record, and an available mode
// different from the stored one is a mode change.
func (s *Service) Enroll(ctx context.Context, in EnrollInput) (*Enrollment, error) {
	details, err := s.courses.GetDetails(ctx, in.CourseKey)
	if err != nil {
		return nil, err
	}
	if !enrollmentOpen(details, time.Now()) {
		return nil, ErrEnrollmentClosed
	}

	mode := strings.ToLower(strings.TrimSpace(in.Mode))
	if mode == "" {
		mode = course.DefaultMode
	}
	if !modeAvailable(details, mode) {
		return nil, &ModeNotAvailableError{Mode: mode, Details: details}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	courseID, err := lookupCourseIDTx(ctx, tx, details.CourseID)
	if err != nil {
		return nil, err
	}

	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
		INSERT INTO enrollments (user_id, course_id, mode, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, now(), now())
		ON CONFLICT (user_id, course_id)
		DO UPDATE SET
			mode = EXCLUDED.mode,
			is_active = TRUE,
			updated_at = now()
		RETURNING created_at
	`, in.UserID, courseID, mode).Scan(&createdAt)
	if err != nil {
		return nil, fmt.Errorf("upsert enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enrollment: %w", err)
	}

	return &Enrollment{
		User:          in.Username,
		Mode:          mode,
		IsActive:      true,
		Created:       &createdAt,
		CourseDetails: details,
	}, nil
}

// GetEnrollment reports enrollment state for one user and course. A user
// who never enrolled gets an inactive record with no mode, not an error.
func (s *Service) GetEnrollment(ctx context.Context, userID int64, username, courseKey string) (*Enrollment, error) {
	details, err := s.courses.GetDetails(ctx, courseKey)
	if err != nil {
		return nil, err
	}

	out := &Enrollment{
		User:          username,
		IsActive:      false,
		CourseDetails: details,
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT e.mode, e.is_active, e.created_at
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		WHERE e.user_id = $1
		  AND c.course_key = $2
		LIMIT 1
	`, userID, details.CourseID)

	var createdAt time.Time
	if err := row.Scan(&out.Mode, &out.IsActive, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, nil
		}
		return nil, fmt.Errorf("query enrollment: %w", err)
	}
	out.Created = &createdAt
	return out, nil
}

func (s *Service) ListEnrollments(ctx context.Context, userID int64, username string) ([]Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.course_key, e.mode, e.is_active, e.created_at
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		WHERE e.user_id = $1
		ORDER BY e.created_at DESC, e.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	type rowData struct {
		courseKey string
		mode      string
		isActive  bool
		createdAt time.Time
	}
	raw := make([]rowData, 0, 8)
	for rows.Next() {
		var rd rowData
		if err := rows.Scan(&rd.courseKey, &rd.mode, &rd.isActive, &rd.createdAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		raw = append(raw, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}

	out := make([]Enrollment, 0, len(raw))
	for _, rd := range raw {
		details, err := s.courses.GetDetails(ctx, rd.courseKey)
		if err != nil {
			if errors.Is(err, course.ErrCourseNotFound) {
				continue
			}
			return nil, err
		}
		created := rd.createdAt
		out = append(out, Enrollment{
			User:          username,
			Mode:          rd.mode,
			IsActive:      rd.isActive,
			Created:       &created,
			CourseDetails: details,
		})
	}
	return out, nil
}

// Deactivate marks an enrollment inactive. The record is kept so history
// and re-enrollment work.
func (s *Service) Deactivate(ctx context.Context, userID int64, username, courseKey string) (*Enrollment, error) {
	details, err := s.courses.GetDetails(ctx, courseKey)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE enrollments e
		SET is_active = FALSE,
			updated_at = now()
		FROM courses c
		WHERE c.id = e.course_id
		  AND e.user_id = $1
		  AND c.course_key = $2
	`, userID, details.CourseID)
	if err != nil {
		return nil, fmt.Errorf("deactivate enrollment: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return nil, ErrEnrollmentNotFound
	}

	return s.GetEnrollment(ctx, userID, username, courseKey)
}

func (s *Service) IsEnrolled(ctx context.Context, userID int64, courseKey string) (bool, string, error) {
	var mode string
	var isActive bool
	err := s.db.QueryRowContext(ctx, `
		SELECT e.mode, e.is_active
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		WHERE e.user_id = $1
		  AND c.course_key = $2
		LIMIT 1
	`, userID, courseKey).Scan(&mode, &isActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("query enrollment state: %w", err)
	}
	if !isActive {
		return false, "", nil
	}
	return true, mode, nil
}

func (s *Service) ListCourseRoster(ctx context.Context, courseKey string) ([]RosterRow, error) {
	details, err := s.courses.GetDetails(ctx, courseKey)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.username, COALESCE(u.email, ''), u.full_name, e.mode, e.is_active, e.created_at
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		JOIN users u ON u.id = e.user_id
		WHERE c.course_key = $1
		ORDER BY u.username ASC
	`, details.CourseID)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	defer rows.Close()

	out := make([]RosterRow, 0, 32)
	for rows.Next() {
		var rr RosterRow
		if err := rows.Scan(&rr.Username, &rr.Email, &rr.FullName, &rr.Mode, &rr.IsActive, &rr.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scan roster row: %w", err)
		}
		out = append(out, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return out, nil
}

func enrollmentOpen(details *course.Details, now time.Time) bool {
	if details.EnrollmentStart != nil && now.Before(*details.EnrollmentStart) {
		return false
	}
	if details.EnrollmentEnd != nil && now.After(*details.EnrollmentEnd) {
		return false
	}
	return true
}

// modeAvailable applies the defaulting contract: a course with no modes
// accepts only the default slug, a course with modes accepts exactly its
// listed slugs.
func modeAvailable(details *course.Details, mode string) bool {
	if len(details.CourseModes) == 0 {
		return mode == course.DefaultMode
	}
	for _, m := range details.CourseModes {
		if m.Slug == mode {
			return true
		}
	}
	return false
}

// ClaimInvitationsTx converts pending enrollment invitations for an email
// address into active enrollments for a newly created user. Only auto-enroll
// invitations to courses where the default mode is selectable are claimed;
// claimed invitations are removed, the rest stay pending.
func ClaimInvitationsTx(ctx context.Context, tx *sql.Tx, userID int64, email string) error {
	if strings.TrimSpace(email) == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		WITH claimed AS (
			SELECT ea.course_id
			FROM enrollment_allowed ea
			JOIN courses c ON c.id = ea.course_id
			WHERE lower(ea.email) = lower($2)
			  AND ea.auto_enroll = TRUE
			  AND c.is_active = TRUE
			  AND (
				NOT EXISTS (
					SELECT 1
					FROM course_modes m
					WHERE m.course_id = ea.course_id
					  AND (m.expiration_at IS NULL OR m.expiration_at > now())
				)
				OR EXISTS (
					SELECT 1
					FROM course_modes m
					WHERE m.course_id = ea.course_id
					  AND m.mode_slug = $3
					  AND (m.expiration_at IS NULL OR m.expiration_at > now())
				)
			  )
		), activated AS (
			INSERT INTO enrollments (user_id, course_id, mode, is_active, created_at, updated_at)
			SELECT $1, course_id, $3, TRUE, now(), now()
			FROM claimed
			ON CONFLICT (user_id, course_id)
			DO UPDATE SET
				is_active = TRUE,
				updated_at = now()
		)
		DELETE FROM enrollment_allowed
		WHERE lower(email) = lower($2)
		  AND course_id IN (SELECT course_id FROM claimed)
	`, userID, email, course.DefaultMode)
	if err != nil {
		return fmt.Errorf("claim enrollment invitations: %w", err)
	}
	return nil
}

func lookupCourseIDTx(ctx context.Context, tx *sql.Tx, courseKey string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
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

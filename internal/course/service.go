package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrCourseNotFound = errors.New("no course found for the given key")
	ErrInvalidInput   = errors.New("invalid input")
	ErrModeExists     = errors.New("course mode already exists")
)

// DefaultMode is the mode students fall into when they do not pick one.
const DefaultMode = "honor"

type Service struct {
	db *sql.DB
}

type Mode struct {
	Slug      string     `json:"slug"`
	Name      string     `json:"name"`
	MinPrice  float64    `json:"min_price"`
	Currency  string     `json:"currency"`
	ExpiresAt *time.Time `json:"expiration_datetime,omitempty"`
}

type Details struct {
	CourseID        string     `json:"course_id"`
	CourseName      string     `json:"course_name"`
	EnrollmentStart *time.Time `json:"enrollment_start,omitempty"`
	EnrollmentEnd   *time.Time `json:"enrollment_end,omitempty"`
	InviteOnly      bool       `json:"invite_only"`
	CourseModes     []Mode     `json:"course_modes"`
}

type CreateCourseInput struct {
	CourseKey       string
	DisplayName     string
	EnrollmentStart *time.Time
	EnrollmentEnd   *time.Time
	InviteOnly      bool
}

type AddModeInput struct {
	CourseKey string
	Slug      string
	Name      string
	MinPrice  float64
	Currency  string
	ExpiresAt *time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) CreateCourse(ctx context.Context, in CreateCourseInput) (*Details, error) {
	key, err := ParseCourseKey(in.CourseKey)
	if err != nil {
		return nil, err
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = key.Course
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO courses (
			course_key, org, course, run, display_name,
			enrollment_start, enrollment_end, invite_only, is_active, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, TRUE, now()
		)
	`, key.String(), key.Org, key.Course, key.Run, displayName, in.EnrollmentStart, in.EnrollmentEnd, in.InviteOnly)
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}

	return s.GetDetails(ctx, key.String())
}

func (s *Service) AddMode(ctx context.Context, in AddModeInput) (*Mode, error) {
	key, err := ParseCourseKey(in.CourseKey)
	if err != nil {
		return nil, err
	}
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	name := strings.TrimSpace(in.Name)
	if slug == "" {
		return nil, fmt.Errorf("%w: mode slug is required", ErrInvalidInput)
	}
	if name == "" {
		name = slug
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "usd"
	}
	if in.MinPrice < 0 {
		return nil, fmt.Errorf("%w: min_price cannot be negative", ErrInvalidInput)
	}

	courseID, err := s.lookupCourseID(ctx, key.String())
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO course_modes (
			course_id, mode_slug, mode_display_name, min_price, currency, expiration_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, now()
		)
		ON CONFLICT (course_id, mode_slug) DO NOTHING
	`, courseID, slug, name, in.MinPrice, currency, in.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert course mode: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrModeExists
	}

	return &Mode{Slug: slug, Name: name, MinPrice: in.MinPrice, Currency: currency, ExpiresAt: in.ExpiresAt}, nil
}

// GetDetails loads a course and its selectable modes. Expired modes are
// filtered out here so every caller sees the same eligibility view.
func (s *Service) GetDetails(ctx context.Context, courseKey string) (*Details, error) {
	key, err := ParseCourseKey(courseKey)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, course_key, display_name, enrollment_start, enrollment_end, invite_only
		FROM courses
		WHERE course_key = $1
		  AND is_active = TRUE
		LIMIT 1
	`, key.String())

	var courseID int64
	var out Details
	var enrollStart, enrollEnd sql.NullTime
	if err := row.Scan(&courseID, &out.CourseID, &out.CourseName, &enrollStart, &enrollEnd, &out.InviteOnly); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("query course: %w", err)
	}
	if enrollStart.Valid {
		out.EnrollmentStart = &enrollStart.Time
	}
	if enrollEnd.Valid {
		out.EnrollmentEnd = &enrollEnd.Time
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT mode_slug, mode_display_name, min_price, currency, expiration_at
		FROM course_modes
		WHERE course_id = $1
		  AND (expiration_at IS NULL OR expiration_at > now())
		ORDER BY min_price ASC, mode_slug ASC
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("query course modes: %w", err)
	}
	defer rows.Close()

	out.CourseModes = make([]Mode, 0, 4)
	for rows.Next() {
		var m Mode
		var expiresAt sql.NullTime
		if err := rows.Scan(&m.Slug, &m.Name, &m.MinPrice, &m.Currency, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan course mode: %w", err)
		}
		if expiresAt.Valid {
			m.ExpiresAt = &expiresAt.Time
		}
		out.CourseModes = append(out.CourseModes, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate course modes: %w", err)
	}

	return &out, nil
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
			return 0, ErrCourseNotFound
		}
		return 0, fmt.Errorf("lookup course: %w", err)
	}
	return id, nil
}

package enrollment

import (
	"testing"
	"time"

	"openlms/internal/course"
)

func TestModeAvailable(t *testing.T) {
	honor := course.Mode{Slug: "honor", Name: "Honor"}
	verified := course.Mode{Slug: "verified", Name: "Verified Certificate"}
	audit := course.Mode{Slug: "audit", Name: "Audit"}
	professional := course.Mode{Slug: "professional", Name: "Professional Education"}

	cases := []struct {
		name  string
		modes []course.Mode
		mode  string
		want  bool
	}{
		{"no modes accepts the default", nil, "honor", true},
		{"no modes rejects verified", nil, "verified", false},
		{"default among full mode set", []course.Mode{honor, verified, audit}, "honor", true},
		{"explicit verified selection", []course.Mode{honor, verified, audit}, "verified", true},
		{"professional only rejects the default", []course.Mode{professional}, "honor", false},
		{"professional must be asked for", []course.Mode{professional}, "professional", true},
		{"unknown slug rejected", []course.Mode{honor, verified}, "platinum", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			details := &course.Details{CourseID: "edX/DemoX/2026", CourseModes: tc.modes}
			if got := modeAvailable(details, tc.mode); got != tc.want {
				t.Fatalf("modeAvailable(%q) = %v, want %v", tc.mode, got, tc.want)
			}
		})
	}
}

func TestEnrollmentOpen(t *testing.T) {
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	cases := []struct {
		name  string
		start *time.Time
		end   *time.Time
		want  bool
	}{
		{"no window is always open", nil, nil, true},
		{"inside window", &past, &future, true},
		{"before start", &future, nil, false},
		{"after end", nil, &past, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			details := &course.Details{CourseID: "edX/DemoX/2026", EnrollmentStart: tc.start, EnrollmentEnd: tc.end}
			if got := enrollmentOpen(details, now); got != tc.want {
				t.Fatalf("enrollmentOpen = %v, want %v", got, tc.want)
			}
		})
	}
}

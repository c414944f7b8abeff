package course

import (
	"errors"
	"testing"
)

func TestParseCourseKeyValid(t *testing.T) {
	key, err := ParseCourseKey("edX/DemoX/Demo_2026")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.Org != "edX" || key.Course != "DemoX" || key.Run != "Demo_2026" {
		t.Fatalf("unexpected parts: %+v", key)
	}
	if key.String() != "edX/DemoX/Demo_2026" {
		t.Fatalf("round trip mismatch: %s", key.String())
	}
}

func TestParseCourseKeyInvalid(t *testing.T) {
	cases := []string{
		"",
		"invalidcourse",
		"org/course",
		"org/course/run/extra",
		"org//run",
		"org/cou rse/run",
		"org/course/run!",
	}
	for _, raw := range cases {
		if _, err := ParseCourseKey(raw); !errors.Is(err, ErrInvalidCourseKey) {
			t.Fatalf("expected ErrInvalidCourseKey for %q, got %v", raw, err)
		}
	}
}

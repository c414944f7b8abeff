package course

import (
	"errors"
	"strings"
)

// ErrInvalidCourseKey message deliberately starts with "no course" so API
// clients can match the same phrase for malformed and unknown keys.
var ErrInvalidCourseKey = errors.New("no course could be parsed from the given key")

// CourseKey is the org/course/run identity of a course.
type CourseKey struct {
	Org    string
	Course string
	Run    string
}

func (k CourseKey) String() string {
	return k.Org + "/" + k.Course + "/" + k.Run
}

// ParseCourseKey validates a slash-separated course key. Each segment must
// be non-empty and limited to letters, digits, dot, underscore and dash.
func ParseCourseKey(raw string) (CourseKey, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return CourseKey{}, ErrInvalidCourseKey
	}
	for _, p := range parts {
		if p == "" || !validKeySegment(p) {
			return CourseKey{}, ErrInvalidCourseKey
		}
	}
	return CourseKey{Org: parts[0], Course: parts[1], Run: parts[2]}, nil
}

func validKeySegment(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

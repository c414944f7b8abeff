package observability

import "testing"

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/v1/enrollment/edX/DemoX/2026")
	want := "/api/v1/enrollment/{course_key}"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}

	got = normalizedPath("/api/v1/admin/users/42")
	want = "/api/v1/admin/users/{id}"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
}

func TestExtractCourseKey(t *testing.T) {
	if key := extractCourseKey("/api/v1/courses/edX/DemoX/2026"); key != "edX/DemoX/2026" {
		t.Fatalf("expected course key, got %q", key)
	}
	if key := extractCourseKey("/api/v1/enrollments"); key != "" {
		t.Fatalf("expected empty key for non-course path, got %q", key)
	}
}

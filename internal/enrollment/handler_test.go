package enrollment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"openlms/internal/auth"
	"openlms/internal/course"

	"github.com/go-chi/chi/v5"
)

type mockEnrollmentService struct {
	enrollFn          func(ctx context.Context, in EnrollInput) (*Enrollment, error)
	getEnrollmentFn   func(ctx context.Context, userID int64, username, courseKey string) (*Enrollment, error)
	listEnrollmentsFn func(ctx context.Context, userID int64, username string) ([]Enrollment, error)
	deactivateFn      func(ctx context.Context, userID int64, username, courseKey string) (*Enrollment, error)
}

func (m *mockEnrollmentService) Enroll(ctx context.Context, in EnrollInput) (*Enrollment, error) {
	if m.enrollFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.enrollFn(ctx, in)
}

func (m *mockEnrollmentService) GetEnrollment(ctx context.Context, userID int64, username, courseKey string) (*Enrollment, error) {
	if m.getEnrollmentFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getEnrollmentFn(ctx, userID, username, courseKey)
}

func (m *mockEnrollmentService) ListEnrollments(ctx context.Context, userID int64, username string) ([]Enrollment, error) {
	if m.listEnrollmentsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listEnrollmentsFn(ctx, userID, username)
}

func (m *mockEnrollmentService) Deactivate(ctx context.Context, userID int64, username, courseKey string) (*Enrollment, error) {
	if m.deactivateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.deactivateFn(ctx, userID, username, courseKey)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func sampleDetails(modes ...course.Mode) *course.Details {
	return &course.Details{
		CourseID:    "edX/DemoX/2026",
		CourseName:  "Demonstration Course",
		CourseModes: modes,
	}
}

func sessionUser() *auth.User {
	return &auth.User{ID: 7, Username: "bob", Role: "student", IsActive: true}
}

func TestCreateEnrollmentDefaultsToHonor(t *testing.T) {
	var gotInput EnrollInput
	created := time.Now()
	h := NewHandler(&mockEnrollmentService{
		enrollFn: func(ctx context.Context, in EnrollInput) (*Enrollment, error) {
			gotInput = in
			return &Enrollment{
				User:          in.Username,
				Mode:          course.DefaultMode,
				IsActive:      true,
				Created:       &created,
				CourseDetails: sampleDetails(),
			}, nil
		},
	})

	payload := []byte(`{"course_details":{"course_id":"edX/DemoX/2026"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/enrollments", bytes.NewReader(payload))
	req = req.WithContext(auth.ContextWithUser(req.Context(), sessionUser()))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotInput.UserID != 7 || gotInput.Username != "bob" {
		t.Fatalf("expected session identity forwarded, got %+v", gotInput)
	}
	if gotInput.Mode != "" {
		t.Fatalf("expected empty mode forwarded for service-side defaulting, got %q", gotInput.Mode)
	}

	body := decodeBody(t, w)
	data := body["data"].(map[string]interface{})
	if data["mode"] != "honor" {
		t.Fatalf("expected honor mode, got %v", data["mode"])
	}
	if data["is_active"] != true {
		t.Fatalf("expected active enrollment")
	}
	details := data["course_details"].(map[string]interface{})
	if details["course_id"] != "edX/DemoX/2026" {
		t.Fatalf("expected course id in response, got %v", details["course_id"])
	}
}

func TestCreateEnrollmentUserMismatchIsNotFound(t *testing.T) {
	enrollCalled := false
	h := NewHandler(&mockEnrollmentService{
		enrollFn: func(ctx context.Context, in EnrollInput) (*Enrollment, error) {
			enrollCalled = true
			return nil, nil
		},
	})

	payload := []byte(`{"user":"not_the_user","course_details":{"course_id":"edX/DemoX/2026"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/enrollments", bytes.NewReader(payload))
	req = req.WithContext(auth.ContextWithUser(req.Context(), sessionUser()))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if enrollCalled {
		t.Fatalf("enroll should not be called for a mismatched user")
	}
}

func TestCreateEnrollmentRequiresSession(t *testing.T) {
	h := NewHandler(&mockEnrollmentService{})

	payload := []byte(`{"course_details":{"course_id":"edX/DemoX/2026"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/enrollments", bytes.NewReader(payload))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateEnrollmentProfessionalOnlyKeepsCourseDetails(t *testing.T) {
	professional := course.Mode{Slug: "professional", Name: "Professional Education"}
	h := NewHandler(&mockEnrollmentService{
		enrollFn: func(ctx context.Context, in EnrollInput) (*Enrollment, error) {
			return nil, &ModeNotAvailableError{Mode: course.DefaultMode, Details: sampleDetails(professional)}
		},
	})

	payload := []byte(`{"course_details":{"course_id":"edX/DemoX/2026"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/enrollments", bytes.NewReader(payload))
	req = req.WithContext(auth.ContextWithUser(req.Context(), sessionUser()))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	body := decodeBody(t, w)
	data := body["data"].(map[string]interface{})
	details := data["course_details"].(map[string]interface{})
	if details["course_id"] != "edX/DemoX/2026" {
		t.Fatalf("expected course details on rejection, got %v", details)
	}
	modes := details["course_modes"].([]interface{})
	if len(modes) != 1 {
		t.Fatalf("expected one available mode, got %d", len(modes))
	}
	if modes[0].(map[string]interface{})["slug"] != "professional" {
		t.Fatalf("expected professional mode listed, got %v", modes[0])
	}
}

func TestCreateEnrollmentInvalidCourseKey(t *testing.T) {
	h := NewHandler(&mockEnrollmentService{
		enrollFn: func(ctx context.Context, in EnrollInput) (*Enrollment, error) {
			return nil, course.ErrInvalidCourseKey
		},
	})

	payload := []byte(`{"course_details":{"course_id":"invalidcourse"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/enrollments", bytes.NewReader(payload))
	req = req.WithContext(auth.ContextWithUser(req.Context(), sessionUser()))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	body := decodeBody(t, w)
	msg := body["error"].(map[string]interface{})["message"].(string)
	if !bytes.Contains([]byte(msg), []byte("no course")) {
		t.Fatalf("expected error message to mention missing course, got %q", msg)
	}
}

func TestStatusReturnsEnrollment(t *testing.T) {
	var gotCourseKey string
	created := time.Now()
	h := NewHandler(&mockEnrollmentService{
		getEnrollmentFn: func(ctx context.Context, userID int64, username, courseKey string) (*Enrollment, error) {
			gotCourseKey = courseKey
			return &Enrollment{
				User:          username,
				Mode:          "honor",
				IsActive:      true,
				Created:       &created,
				CourseDetails: sampleDetails(course.Mode{Slug: "honor", Name: "Honor"}),
			}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/enrollment/edX/DemoX/2026", nil)
	req = withChiParam(req, "*", "edX/DemoX/2026")
	req = req.WithContext(auth.ContextWithUser(req.Context(), sessionUser()))
	w := httptest.NewRecorder()

	h.Status(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotCourseKey != "edX/DemoX/2026" {
		t.Fatalf("expected course key from path, got %q", gotCourseKey)
	}
	body := decodeBody(t, w)
	data := body["data"].(map[string]interface{})
	if data["mode"] != "honor" || data["is_active"] != true {
		t.Fatalf("unexpected enrollment state: %v", data)
	}
}

func TestStatusUserParamMismatchIsNotFound(t *testing.T) {
	lookupCalled := false
	h := NewHandler(&mockEnrollmentService{
		getEnrollmentFn: func(ctx context.Context, userID int64, username, courseKey string) (*Enrollment, error) {
			lookupCalled = true
			return nil, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/enrollment/edX/DemoX/2026?user=not_the_user", nil)
	req = withChiParam(req, "*", "edX/DemoX/2026")
	req = req.WithContext(auth.ContextWithUser(req.Context(), sessionUser()))
	w := httptest.NewRecorder()

	h.Status(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if lookupCalled {
		t.Fatalf("lookup should be skipped for mismatched user")
	}
}

func TestStatusMatchingUserParamIsAllowed(t *testing.T) {
	h := NewHandler(&mockEnrollmentService{
		getEnrollmentFn: func(ctx context.Context, userID int64, username, courseKey string) (*Enrollment, error) {
			return &Enrollment{User: username, IsActive: false, CourseDetails: sampleDetails()}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/enrollment/edX/DemoX/2026?user=bob", nil)
	req = withChiParam(req, "*", "edX/DemoX/2026")
	req = req.WithContext(auth.ContextWithUser(req.Context(), sessionUser()))
	w := httptest.NewRecorder()

	h.Status(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestListUserParamMismatchIsNotFound(t *testing.T) {
	h := NewHandler(&mockEnrollmentService{
		listEnrollmentsFn: func(ctx context.Context, userID int64, username string) ([]Enrollment, error) {
			return nil, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/enrollments?user=not_the_user", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), sessionUser()))
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestStatusServiceFailureIsBadRequest(t *testing.T) {
	h := NewHandler(&mockEnrollmentService{
		getEnrollmentFn: func(ctx context.Context, userID int64, username, courseKey string) (*Enrollment, error) {
			return nil, errors.New("something bad happened")
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/enrollment/edX/DemoX/2026", nil)
	req = withChiParam(req, "*", "edX/DemoX/2026")
	req = req.WithContext(auth.ContextWithUser(req.Context(), sessionUser()))
	w := httptest.NewRecorder()

	h.Status(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestDeactivateUnknownEnrollmentIsNotFound(t *testing.T) {
	h := NewHandler(&mockEnrollmentService{
		deactivateFn: func(ctx context.Context, userID int64, username, courseKey string) (*Enrollment, error) {
			return nil, ErrEnrollmentNotFound
		},
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/enrollment/edX/DemoX/2026", nil)
	req = withChiParam(req, "*", "edX/DemoX/2026")
	req = req.WithContext(auth.ContextWithUser(req.Context(), sessionUser()))
	w := httptest.NewRecorder()

	h.Deactivate(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

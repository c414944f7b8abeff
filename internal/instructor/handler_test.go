package instructor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"openlms/internal/auth"
)

type mockInstructorService struct {
	bulkFn   func(ctx context.Context, in BulkInput) (*BulkResult, error)
	betaFn   func(ctx context.Context, in BetaInput) (*BulkResult, error)
	rosterFn func(ctx context.Context, courseKey string) ([]byte, error)
}

func (m *mockInstructorService) BulkUpdate(ctx context.Context, in BulkInput) (*BulkResult, error) {
	if m.bulkFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.bulkFn(ctx, in)
}

func (m *mockInstructorService) BetaUpdate(ctx context.Context, in BetaInput) (*BulkResult, error) {
	if m.betaFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.betaFn(ctx, in)
}

func (m *mockInstructorService) RosterExcel(ctx context.Context, courseKey string) ([]byte, error) {
	if m.rosterFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.rosterFn(ctx, courseKey)
}

func instructorUser() *auth.User {
	return &auth.User{ID: 3, Username: "prof", Role: "instructor", IsActive: true}
}

func TestUpdateEnrollmentForwardsBatch(t *testing.T) {
	var gotInput BulkInput
	h := NewHandler(&mockInstructorService{
		bulkFn: func(ctx context.Context, in BulkInput) (*BulkResult, error) {
			gotInput = in
			return &BulkResult{
				CourseID: in.CourseKey,
				Action:   in.Action,
				Results: []BulkResultRow{
					{Identifier: "alice", Before: &StudentState{User: true}, After: &StudentState{User: true, Enrollment: true}},
				},
			}, nil
		},
	})

	payload := []byte(`{"course_id":"edX/DemoX/2026","action":"enroll","identifiers":"alice","auto_enroll":true,"email_students":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/instructor/enrollment", bytes.NewReader(payload))
	req = req.WithContext(auth.ContextWithUser(req.Context(), instructorUser()))
	w := httptest.NewRecorder()

	h.UpdateEnrollment(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotInput.CourseKey != "edX/DemoX/2026" || gotInput.Action != "enroll" || !gotInput.AutoEnroll || !gotInput.EmailStudents {
		t.Fatalf("unexpected input forwarded: %+v", gotInput)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	data := body["data"].(map[string]interface{})
	results := data["results"].([]interface{})
	if len(results) != 1 {
		t.Fatalf("expected one result row, got %d", len(results))
	}
	row := results[0].(map[string]interface{})
	if row["identifier"] != "alice" {
		t.Fatalf("unexpected identifier %v", row["identifier"])
	}
	after := row["after"].(map[string]interface{})
	if after["enrollment"] != true {
		t.Fatalf("expected enrolled after state, got %v", after)
	}
}

func TestUpdateEnrollmentRequiresSession(t *testing.T) {
	h := NewHandler(&mockInstructorService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/instructor/enrollment", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()

	h.UpdateEnrollment(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestUpdateEnrollmentInvalidAction(t *testing.T) {
	h := NewHandler(&mockInstructorService{
		bulkFn: func(ctx context.Context, in BulkInput) (*BulkResult, error) {
			return nil, ErrInvalidAction
		},
	})

	payload := []byte(`{"course_id":"edX/DemoX/2026","action":"explode","identifiers":"alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/instructor/enrollment", bytes.NewReader(payload))
	req = req.WithContext(auth.ContextWithUser(req.Context(), instructorUser()))
	w := httptest.NewRecorder()

	h.UpdateEnrollment(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUpdateBetaTestersForwardsBatch(t *testing.T) {
	var gotInput BetaInput
	h := NewHandler(&mockInstructorService{
		betaFn: func(ctx context.Context, in BetaInput) (*BulkResult, error) {
			gotInput = in
			return &BulkResult{CourseID: in.CourseKey, Action: in.Action}, nil
		},
	})

	payload := []byte(`{"course_id":"edX/DemoX/2026","action":"add","identifiers":"alice bob","email_students":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/instructor/beta-testers", bytes.NewReader(payload))
	req = req.WithContext(auth.ContextWithUser(req.Context(), instructorUser()))
	w := httptest.NewRecorder()

	h.UpdateBetaTesters(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotInput.Action != "add" || gotInput.Identifiers != "alice bob" || !gotInput.EmailStudents {
		t.Fatalf("unexpected input forwarded: %+v", gotInput)
	}
}

func TestRosterDownload(t *testing.T) {
	h := NewHandler(&mockInstructorService{
		rosterFn: func(ctx context.Context, courseKey string) ([]byte, error) {
			if courseKey != "edX/DemoX/2026" {
				t.Fatalf("unexpected course key %q", courseKey)
			}
			return []byte("xlsx-bytes"), nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/instructor/roster?course_id=edX/DemoX/2026", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), instructorUser()))
	w := httptest.NewRecorder()

	h.Roster(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if w.Body.String() != "xlsx-bytes" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
}

func TestRosterRequiresCourseID(t *testing.T) {
	h := NewHandler(&mockInstructorService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/instructor/roster", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), instructorUser()))
	w := httptest.NewRecorder()

	h.Roster(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

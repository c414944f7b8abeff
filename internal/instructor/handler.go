package instructor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"openlms/internal/app/apiresp"
	"openlms/internal/auth"
	"openlms/internal/course"
)

type Handler struct {
	svc instructorService
}

type instructorService interface {
	BulkUpdate(ctx context.Context, in BulkInput) (*BulkResult, error)
	BetaUpdate(ctx context.Context, in BetaInput) (*BulkResult, error)
	RosterExcel(ctx context.Context, courseKey string) ([]byte, error)
}

type bulkRequest struct {
	CourseID      string `json:"course_id"`
	Action        string `json:"action"`
	Identifiers   string `json:"identifiers"`
	AutoEnroll    bool   `json:"auto_enroll"`
	EmailStudents bool   `json:"email_students"`
}

func NewHandler(svc instructorService) *Handler {
	return &Handler{svc: svc}
}

// UpdateEnrollment runs a bulk enroll or unenroll batch against a course.
func (h *Handler) UpdateEnrollment(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.CurrentUser(r.Context()); !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.BulkUpdate(r.Context(), BulkInput{
		CourseKey:     req.CourseID,
		Action:        req.Action,
		Identifiers:   req.Identifiers,
		AutoEnroll:    req.AutoEnroll,
		EmailStudents: req.EmailStudents,
	})
	if err != nil {
		writeInstructorError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, result)
}

// UpdateBetaTesters adds or removes beta testers for a course.
func (h *Handler) UpdateBetaTesters(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.CurrentUser(r.Context()); !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.svc.BetaUpdate(r.Context(), BetaInput{
		CourseKey:     req.CourseID,
		Action:        req.Action,
		Identifiers:   req.Identifiers,
		AutoEnroll:    req.AutoEnroll,
		EmailStudents: req.EmailStudents,
	})
	if err != nil {
		writeInstructorError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, result)
}

// Roster streams the course roster as an xlsx download.
func (h *Handler) Roster(w http.ResponseWriter, r *http.Request) {
	courseKey := strings.TrimSpace(r.URL.Query().Get("course_id"))
	if courseKey == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "course_id is required")
		return
	}

	data, err := h.svc.RosterExcel(r.Context(), courseKey)
	if err != nil {
		writeInstructorError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="roster.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeInstructorError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, course.ErrInvalidCourseKey), errors.Is(err, course.ErrCourseNotFound):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidAction), errors.Is(err, ErrInvalidBetaAction), errors.Is(err, ErrNoIdentifiers):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusBadRequest, "could not process instructor request")
	}
}

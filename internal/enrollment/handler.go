package enrollment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"openlms/internal/app/apiresp"
	"openlms/internal/auth"
	"openlms/internal/course"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc enrollmentService
}

type enrollmentService interface {
	Enroll(ctx context.Context, in EnrollInput) (*Enrollment, error)
	GetEnrollment(ctx context.Context, userID int64, username, courseKey string) (*Enrollment, error)
	ListEnrollments(ctx context.Context, userID int64, username string) ([]Enrollment, error)
	Deactivate(ctx context.Context, userID int64, username, courseKey string) (*Enrollment, error)
}

type enrollRequest struct {
	User          string `json:"user"`
	Mode          string `json:"mode"`
	CourseDetails struct {
		CourseID string `json:"course_id"`
	} `json:"course_details"`
}

func NewHandler(svc enrollmentService) *Handler {
	return &Handler{svc: svc}
}

// Create enrolls the session user in a course. A username in the body must
// match the session user; a mismatch answers 404 so account existence does
// not leak.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	username := strings.TrimSpace(req.User)
	if username == "" {
		username = user.Username
	}
	if username != user.Username {
		apiresp.WriteError(w, r, http.StatusNotFound, "user not found")
		return
	}

	enrollment, err := h.svc.Enroll(r.Context(), EnrollInput{
		UserID:    user.ID,
		Username:  username,
		CourseKey: req.CourseDetails.CourseID,
		Mode:      req.Mode,
	})
	if err != nil {
		writeEnrollError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, enrollment)
}

// Status reports the enrollment state for one course. The optional user
// query parameter must name the session user.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !requestedUserMatches(r, user) {
		apiresp.WriteError(w, r, http.StatusNotFound, "user not found")
		return
	}

	courseKey := strings.Trim(chi.URLParam(r, "*"), "/")
	enrollment, err := h.svc.GetEnrollment(r.Context(), user.ID, user.Username, courseKey)
	if err != nil {
		writeEnrollError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, enrollment)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !requestedUserMatches(r, user) {
		apiresp.WriteError(w, r, http.StatusNotFound, "user not found")
		return
	}

	items, err := h.svc.ListEnrollments(r.Context(), user.ID, user.Username)
	if err != nil {
		writeEnrollError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	courseKey := strings.Trim(chi.URLParam(r, "*"), "/")
	enrollment, err := h.svc.Deactivate(r.Context(), user.ID, user.Username, courseKey)
	if err != nil {
		if errors.Is(err, ErrEnrollmentNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
			return
		}
		writeEnrollError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, enrollment)
}

// writeEnrollError maps service failures onto the enrollment API contract:
// everything the client can act on is a 400, including the mode-unavailable
// rejection, which keeps the course details in the payload.
func writeEnrollError(w http.ResponseWriter, r *http.Request, err error) {
	var modeErr *ModeNotAvailableError
	switch {
	case errors.As(err, &modeErr):
		apiresp.WriteErrorData(w, r, http.StatusBadRequest, modeErr.Error(), map[string]any{
			"course_details": modeErr.Details,
		})
	case errors.Is(err, course.ErrInvalidCourseKey), errors.Is(err, course.ErrCourseNotFound):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrEnrollmentClosed):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusBadRequest, "could not process enrollment request")
	}
}

func requestedUserMatches(r *http.Request, user *auth.User) bool {
	requested := strings.TrimSpace(r.URL.Query().Get("user"))
	return requested == "" || requested == user.Username
}

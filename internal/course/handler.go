package course

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"openlms/internal/app/apiresp"
	"openlms/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc courseService
}

type courseService interface {
	GetDetails(ctx context.Context, courseKey string) (*Details, error)
	CreateCourse(ctx context.Context, in CreateCourseInput) (*Details, error)
	AddMode(ctx context.Context, in AddModeInput) (*Mode, error)
}

type createCourseRequest struct {
	CourseID        string `json:"course_id"`
	DisplayName     string `json:"display_name"`
	EnrollmentStart string `json:"enrollment_start"`
	EnrollmentEnd   string `json:"enrollment_end"`
	InviteOnly      bool   `json:"invite_only"`
}

type addModeRequest struct {
	CourseID   string  `json:"course_id"`
	Slug       string  `json:"slug"`
	Name       string  `json:"name"`
	MinPrice   float64 `json:"min_price"`
	Currency   string  `json:"currency"`
	Expiration string  `json:"expiration_datetime"`
}

func NewHandler(svc courseService) *Handler {
	return &Handler{svc: svc}
}

// Details serves public course catalog data. Malformed and unknown keys
// both answer 400, matching the enrollment API contract.
func (h *Handler) Details(w http.ResponseWriter, r *http.Request) {
	courseKey := strings.Trim(chi.URLParam(r, "*"), "/")

	details, err := h.svc.GetDetails(r.Context(), courseKey)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCourseKey), errors.Is(err, ErrCourseNotFound):
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, r, http.StatusBadRequest, "could not load course details")
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, details)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.CurrentUser(r.Context()); !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createCourseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	enrollStart, err := parseOptionalTime(req.EnrollmentStart)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "enrollment_start must be RFC3339")
		return
	}
	enrollEnd, err := parseOptionalTime(req.EnrollmentEnd)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "enrollment_end must be RFC3339")
		return
	}

	details, err := h.svc.CreateCourse(r.Context(), CreateCourseInput{
		CourseKey:       req.CourseID,
		DisplayName:     req.DisplayName,
		EnrollmentStart: enrollStart,
		EnrollmentEnd:   enrollEnd,
		InviteOnly:      req.InviteOnly,
	})
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, details)
}

func (h *Handler) AddMode(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.CurrentUser(r.Context()); !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req addModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	expiresAt, err := parseOptionalTime(req.Expiration)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "expiration_datetime must be RFC3339")
		return
	}

	mode, err := h.svc.AddMode(r.Context(), AddModeInput{
		CourseKey: req.CourseID,
		Slug:      req.Slug,
		Name:      req.Name,
		MinPrice:  req.MinPrice,
		Currency:  req.Currency,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrModeExists):
			apiresp.WriteError(w, r, http.StatusConflict, err.Error())
		default:
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		}
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, mode)
}

func parseOptionalTime(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

package app

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"openlms/internal/app/observability"
	"openlms/internal/auth"
	"openlms/internal/course"
	"openlms/internal/enrollment"
	"openlms/internal/i18n"
	"openlms/internal/instructor"
	"openlms/internal/mailer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	catalog, err := i18n.Load(cfg.DefaultLanguage)
	if err != nil {
		log.Printf("locale config error, falling back to en: %v", err)
		catalog, err = i18n.Load("en")
		if err != nil {
			panic(err)
		}
	}

	sender := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	})
	if sender == nil {
		log.Printf("smtp not configured, notification emails go to the log")
		sender = mailer.LogSender{}
	}

	authSvc := auth.NewService(db, auth.ServiceConfig{
		// Pending enrollment invitations are claimed as part of account
		// provisioning.
		OnUserCreated: enrollment.ClaimInvitationsTx,
	})
	authHandler := auth.NewHandler(authSvc)

	courseSvc := course.NewService(db)
	courseHandler := course.NewHandler(courseSvc)

	enrollSvc := enrollment.NewService(db, courseSvc)
	enrollHandler := enrollment.NewHandler(enrollSvc)

	instructorSvc := instructor.NewService(db, courseSvc, enrollSvc, catalog, sender, cfg.PlatformName)
	instructorHandler := instructor.NewHandler(instructorSvc)

	loginLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		// Course catalog data is public.
		api.Get("/courses/*", courseHandler.Details)

		api.With(RateLimitMiddleware(loginLimiter)).Post("/auth/login", authHandler.Login)

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Use(CSRFMiddleware(cfg.CSRFEnforced))

			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Post("/enrollments", enrollHandler.Create)
			secure.Get("/enrollments", enrollHandler.List)
			secure.Get("/enrollment/*", enrollHandler.Status)
			secure.Delete("/enrollment/*", enrollHandler.Deactivate)

			secure.Put("/users/{username}/preferences/{key}", authHandler.SetPreference)
			secure.Get("/users/{username}/preferences/{key}", authHandler.GetPreference)

			secure.Group(func(team chi.Router) {
				team.Use(authHandler.RequireRoles("staff", "instructor"))
				team.Post("/instructor/enrollment", instructorHandler.UpdateEnrollment)
				team.Post("/instructor/beta-testers", instructorHandler.UpdateBetaTesters)
				team.Get("/instructor/roster", instructorHandler.Roster)
			})

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles("staff"))
				admin.Post("/admin/courses", courseHandler.Create)
				admin.Post("/admin/course-modes", courseHandler.AddMode)
				admin.Post("/admin/users", authHandler.CreateUser)
				admin.Get("/admin/users", authHandler.ListUsers)
				admin.Delete("/admin/users/{id}", authHandler.DeactivateUser)
			})
		})
	})

	return r
}

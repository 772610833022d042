package api

import (
	"log"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sngm3741/emaily/api/internal/survey/application"
)

// Handler wires the survey, webhook and billing endpoints to application services.
type Handler struct {
	logger         *log.Logger
	surveyCommands application.SurveyCommandService
	surveyQueries  application.SurveyQueryService
	webhooks       application.WebhookProcessor
	accounts       application.AccountService
	billingSecret  []byte
	validate       *validator.Validate
}

// Config defines dependencies required by Handler.
type Config struct {
	Logger         *log.Logger
	SurveyCommands application.SurveyCommandService
	SurveyQueries  application.SurveyQueryService
	Webhooks       application.WebhookProcessor
	Accounts       application.AccountService
	BillingSecret  []byte
}

// NewHandler constructs the API handler set.
func NewHandler(cfg Config) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	return &Handler{
		logger:         cfg.Logger,
		surveyCommands: cfg.SurveyCommands,
		surveyQueries:  cfg.SurveyQueries,
		webhooks:       cfg.Webhooks,
		accounts:       cfg.Accounts,
		billingSecret:  append([]byte(nil), cfg.BillingSecret...),
		validate:       validate,
	}
}

// Register mounts all API routes onto the router.
func (h *Handler) Register(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.With(authMiddleware).Get("/current_user", h.currentUserHandler())
		r.With(authMiddleware).Get("/surveys", h.surveyListHandler())
		r.With(authMiddleware).Post("/surveys", h.surveyCreateHandler())
		r.With(authMiddleware).Get("/surveys/{surveyId}", h.surveyDetailHandler())
		r.Post("/surveys/webhooks", h.webhookHandler())
		r.Get("/surveys/{surveyId}/{choice}", h.thanksHandler())
		r.Post("/billing/webhook", h.billingWebhookHandler())
	})
}

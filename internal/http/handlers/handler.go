package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"polyatop/backend/internal/cache"
	"polyatop/backend/internal/config"
	authmw "polyatop/backend/internal/http/middleware"
	"polyatop/backend/internal/integrations"
	"polyatop/backend/internal/payments"
	"polyatop/backend/internal/rate"
	"polyatop/backend/internal/repository"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// Deps are the collaborators of Handler. Deduper and BookingLimiter fall back
// to in-process implementations when nil.
type Deps struct {
	Repo           *repository.Repository
	Payments       *payments.Service
	Telegram       *integrations.TelegramClient
	S3             *integrations.S3Client
	Deduper        cache.Deduper
	BookingLimiter rate.Limiter
	Config         *config.Config
	Logger         *slog.Logger
}

type Handler struct {
	repo           *repository.Repository
	payments       *payments.Service
	telegram       *integrations.TelegramClient
	s3             *integrations.S3Client
	deduper        cache.Deduper
	bookingLimiter rate.Limiter
	cfg            *config.Config
	logger         *slog.Logger
	validator      *validator.Validate
	now            func() time.Time
}

func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deduper := deps.Deduper
	if deduper == nil {
		deduper = cache.NewMemoryDeduper()
	}
	limiter := deps.BookingLimiter
	if limiter == nil {
		limiter = rate.NewWindowLimiter(deps.Config.BookingRateLimit, time.Minute)
	}
	return &Handler{
		repo:           deps.Repo,
		payments:       deps.Payments,
		telegram:       deps.Telegram,
		s3:             deps.S3,
		deduper:        deduper,
		bookingLimiter: limiter,
		cfg:            deps.Config,
		logger:         logger,
		validator:      validator.New(),
		now:            time.Now,
	}
}

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

func (h *Handler) location() *time.Location {
	if h.cfg != nil && h.cfg.Timezone != nil {
		return h.cfg.Timezone
	}
	return time.UTC
}

func (h *Handler) loggerForRequest(r *http.Request) *slog.Logger {
	logger := h.logger
	if logger == nil {
		return slog.Default()
	}
	if reqID := chimw.GetReqID(r.Context()); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if userID, ok := authmw.UserIDFromContext(r.Context()); ok {
		logger = logger.With("user_id", userID)
	}
	if tgID, ok := authmw.TelegramIDFromContext(r.Context()); ok {
		logger = logger.With("telegram_id", tgID)
	}
	return logger
}

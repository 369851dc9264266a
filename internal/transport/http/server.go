// Package http exposes the slot services over a gin router.
package http

import (
	"context"
	"crypto/rand"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"slotwise/backend/internal/domain"
	"slotwise/backend/internal/service/timeslots"
)

type slotService interface {
	CreateSingle(ctx context.Context, in timeslots.CreateInput) (domain.Slot, error)
	CreateBulk(ctx context.Context, in timeslots.BulkInput) (timeslots.BulkResult, error)
	CreateDay(ctx context.Context, in timeslots.DayInput) (timeslots.BulkResult, error)
	CreateFlexible(ctx context.Context, in timeslots.FlexibleInput) (timeslots.BulkResult, error)
	Update(ctx context.Context, ownerID string, id uuid.UUID, p timeslots.Patch) (domain.Slot, error)
	Transition(ctx context.Context, ownerID string, id uuid.UUID, action domain.Action) (domain.Slot, error)
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
	Get(ctx context.Context, ownerID string, id uuid.UUID) (domain.Slot, error)
	List(ctx context.Context, ownerID string, f timeslots.ListFilter) ([]domain.Slot, error)
	Browse(ctx context.Context, viewerID, ownerID string, f timeslots.ListFilter) ([]domain.Slot, error)
	Summarize(ctx context.Context, ownerID string) (timeslots.Summary, error)
	UpcomingAvailable(ctx context.Context, ownerID string, limit int) ([]domain.Slot, error)
}

// ReadyCheck is a named dependency probed by /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

type Server struct {
	svc            slotService
	auth           *Authenticator
	log            *slog.Logger
	calendar       Calendar
	limiter        *RateLimiter
	requestTimeout time.Duration
	readyChecks    []ReadyCheck
	stateKey       []byte
}

type Option func(*Server)

// WithCalendar enables busy-time import and the OAuth endpoints.
func WithCalendar(cal Calendar) Option {
	return func(s *Server) {
		s.calendar = cal
	}
}

// WithStateKey sets the key that signs OAuth state. Replicas sharing a
// callback URL need the same key; without one each process picks its own.
func WithStateKey(key []byte) Option {
	return func(s *Server) {
		if len(key) > 0 {
			s.stateKey = key
		}
	}
}

func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) {
		s.limiter = rl
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

func WithReadyChecks(checks ...ReadyCheck) Option {
	return func(s *Server) {
		s.readyChecks = append(s.readyChecks, checks...)
	}
}

func NewServer(svc slotService, auth *Authenticator, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		svc:  svc,
		auth: auth,
		log:  log.With(slog.String("component", "http")),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stateKey == nil {
		s.stateKey = make([]byte, 32)
		_, _ = rand.Read(s.stateKey)
	}
	return s
}

// Handler builds the router. Health probes and the OAuth callback are
// public; everything else needs a bearer token.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(s.log))

	r.GET("/healthz", s.healthz)
	r.GET("/readyz", s.readyz)
	r.GET("/oauth2callback", s.oauthCallback)

	api := r.Group("/", s.auth.Middleware())
	if s.limiter != nil {
		api.Use(s.limiter.Middleware())
	}
	api.Use(withTimeout(s.requestTimeout))

	api.GET("/calendar/auth", s.calendarAuth)

	ts := api.Group("/time-slots")
	ts.POST("", s.createSlot)
	ts.POST("/bulk", s.createBulk)
	ts.POST("/day", s.createDay)
	ts.POST("/flexible", s.createFlexible)
	ts.GET("", s.listSlots)
	ts.GET("/summary", s.summary)
	ts.GET("/available/upcoming", s.upcoming)
	ts.GET("/user/:user_identifier", s.browseSlots)
	ts.GET("/:id", s.getSlot)
	ts.PUT("/:id", s.updateSlot)
	ts.DELETE("/:id", s.deleteSlot)
	for _, action := range []domain.Action{
		domain.ActionBook,
		domain.ActionUnbook,
		domain.ActionBlock,
		domain.ActionUnblock,
		domain.ActionCancel,
	} {
		ts.POST("/:id/"+string(action), s.transition(action))
	}
	return r
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyz(c *gin.Context) {
	failures := map[string]string{}
	for _, check := range s.readyChecks {
		if check.Check == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		err := check.Check(ctx)
		cancel()
		if err != nil {
			name := check.Name
			if name == "" {
				name = "dependency"
			}
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.log.Warn("not ready", slog.Any("failures", failures))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failures": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"slotwise/backend/internal/calendar"
	"slotwise/backend/internal/service/timeslots"
)

const (
	googleTokenHeader = "X-Google-Token"
	stateAudience     = "slotwise-oauth-state"
	stateTTL          = 10 * time.Minute
)

var errInvalidState = errors.New("invalid oauth state")

// Calendar is the external calendar integration used by bulk creation.
type Calendar interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Busy(tok *oauth2.Token) timeslots.BusySource
}

type googleCalendar struct {
	*calendar.Client
}

func (g googleCalendar) Busy(tok *oauth2.Token) timeslots.BusySource {
	return g.ForToken(tok)
}

// GoogleCalendar adapts a calendar client to the router.
func GoogleCalendar(c *calendar.Client) Calendar {
	return googleCalendar{Client: c}
}

// busySource returns nil when the request carries no token or the
// integration is off.
func (s *Server) busySource(c *gin.Context) (timeslots.BusySource, error) {
	raw := strings.TrimSpace(c.GetHeader(googleTokenHeader))
	if raw == "" || s.calendar == nil {
		return nil, nil
	}
	tok, err := calendar.ParseToken(raw)
	if err != nil {
		return nil, err
	}
	return s.calendar.Busy(tok), nil
}

func (s *Server) calendarAuth(c *gin.Context) {
	log := s.log.With(slog.String("route", "CalendarAuth"))
	if s.calendar == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "google calendar is not configured"})
		return
	}
	state, err := s.issueState(ownerFrom(c), time.Now())
	if err != nil {
		log.Error("sign oauth state failed", slog.Any("err", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"auth_url": s.calendar.AuthURL(state),
		"state":    state,
	})
}

func (s *Server) oauthCallback(c *gin.Context) {
	log := s.log.With(slog.String("route", "OAuthCallback"))
	if s.calendar == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "google calendar is not configured"})
		return
	}
	code := c.Query("code")
	if code == "" {
		badRequest(c, "authorization code required")
		return
	}
	owner, err := s.verifyState(c.Query("state"))
	if err != nil {
		log.Warn("oauth callback with unknown state", slog.Any("err", err))
		badRequest(c, "invalid state")
		return
	}

	tok, err := s.calendar.Exchange(c.Request.Context(), code)
	if err != nil {
		log.Warn("oauth code exchange failed", slog.Any("err", err), slog.String("user_id", owner))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to exchange code for token"})
		return
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		log.Error("oauth token encode failed", slog.Any("err", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	// The client keeps the token and sends it back in X-Google-Token.
	c.JSON(http.StatusOK, gin.H{
		"message": "authorization successful",
		"state":   c.Query("state"),
		"user_id": owner,
		"token":   string(raw),
	})
}

// issueState signs a short-lived state naming the owner who started the
// consent flow.
func (s *Server) issueState(owner string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   owner,
		Audience:  jwt.ClaimStrings{stateAudience},
		ID:        randomState(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.stateKey)
}

func (s *Server) verifyState(state string) (string, error) {
	if state == "" {
		return "", errInvalidState
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (any, error) {
		return s.stateKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithAudience(stateAudience), jwt.WithExpirationRequired())
	if err != nil {
		return "", errors.Join(errInvalidState, err)
	}
	if claims.Subject == "" {
		return "", errInvalidState
	}
	return claims.Subject, nil
}

func randomState() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

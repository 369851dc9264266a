package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"slotwise/backend/internal/service/timeslots"
)

// writeError renders a service error. conflictStatus differs between
// creating (400) and changing (409) a slot.
func writeError(c *gin.Context, log *slog.Logger, err error, conflictStatus int) {
	var (
		vErr *timeslots.ValidationError
		cErr *timeslots.ConflictError
		sErr *timeslots.StateError
		aErr *timeslots.AuthorizationError
		nErr *timeslots.NotFoundError
	)
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", slog.Any("err", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
	case errors.As(err, &cErr):
		log.Info("time slot conflict", slog.Any("err", err))
		c.JSON(conflictStatus, gin.H{"error": cErr.Error()})
	case errors.As(err, &sErr):
		log.Info("time slot state conflict", slog.Any("err", err))
		c.JSON(http.StatusConflict, gin.H{"error": sErr.Error()})
	case errors.As(err, &aErr):
		// Another owner's slot is reported exactly like a missing one.
		log.Warn("foreign time slot access", slog.String("slot_id", aErr.SlotID.String()))
		c.JSON(http.StatusNotFound, gin.H{"error": "time slot not found"})
	case errors.As(err, &nErr):
		c.JSON(http.StatusNotFound, gin.H{"error": nErr.Error()})
	case errors.Is(err, timeslots.ErrCalendarUnavailable):
		log.Error("calendar lookup failed", slog.Any("err", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "calendar unavailable"})
	default:
		log.Error("request failed", slog.Any("err", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

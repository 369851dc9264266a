package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"slotwise/backend/internal/domain"
	"slotwise/backend/internal/service/timeslots"
)

func (s *Server) createSlot(c *gin.Context) {
	owner := ownerFrom(c)
	log := s.log.With(slog.String("route", "CreateSlot"), slog.String("user_id", owner))

	var req createSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if st := strings.TrimSpace(req.Status); st != "" && domain.SlotStatus(st) != domain.SlotStatusAvailable {
		badRequest(c, "new time slots are always available")
		return
	}

	slot, err := s.svc.CreateSingle(c.Request.Context(), timeslots.CreateInput{
		OwnerID:     owner,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Timezone:    req.Timezone,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeError(c, log, err, http.StatusBadRequest)
		return
	}

	log.Info("time slot created",
		slog.String("slot_id", slot.ID.String()),
		slog.Time("start_time", slot.StartTime),
		slog.Time("end_time", slot.EndTime),
	)
	c.JSON(http.StatusCreated, toSlotResponse(slot))
}

func (s *Server) createBulk(c *gin.Context) {
	owner := ownerFrom(c)
	log := s.log.With(slog.String("route", "CreateBulk"), slog.String("user_id", owner))

	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	busy, err := s.busySource(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := s.svc.CreateBulk(c.Request.Context(), timeslots.BulkInput{
		OwnerID:             owner,
		StartDate:           req.StartDate,
		EndDate:             req.EndDate,
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
		DaysOfWeek:          req.DaysOfWeek,
		SlotDurationMinutes: durationOrDefault(req.SlotDurationMinutes),
		Timezone:            req.Timezone,
		Title:               req.Title,
		Description:         req.Description,
		Busy:                busy,
	})
	if err != nil {
		writeError(c, log, err, http.StatusBadRequest)
		return
	}
	s.logBulk(log, res)
	c.JSON(http.StatusOK, toBulkResponse(res))
}

func (s *Server) createDay(c *gin.Context) {
	owner := ownerFrom(c)
	log := s.log.With(slog.String("route", "CreateDay"), slog.String("user_id", owner))

	var req dayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	busy, err := s.busySource(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	windows := make([]timeslots.WindowInput, 0, len(req.TimeSlots))
	for _, w := range req.TimeSlots {
		windows = append(windows, timeslots.WindowInput{StartTime: w.StartTime, EndTime: w.EndTime})
	}
	res, err := s.svc.CreateDay(c.Request.Context(), timeslots.DayInput{
		OwnerID:     owner,
		Date:        req.Date,
		Windows:     windows,
		Timezone:    req.Timezone,
		Title:       req.Title,
		Description: req.Description,
		Busy:        busy,
	})
	if err != nil {
		writeError(c, log, err, http.StatusBadRequest)
		return
	}
	s.logBulk(log, res)
	c.JSON(http.StatusOK, toBulkResponse(res))
}

func (s *Server) createFlexible(c *gin.Context) {
	owner := ownerFrom(c)
	log := s.log.With(slog.String("route", "CreateFlexible"), slog.String("user_id", owner))

	var req flexibleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	busy, err := s.busySource(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	days := make([]timeslots.DayConfig, 0, len(req.DayConfigs))
	for _, d := range req.DayConfigs {
		days = append(days, timeslots.DayConfig{
			DayOfWeek:           d.DayOfWeek,
			StartTime:           d.StartTime,
			EndTime:             d.EndTime,
			SlotDurationMinutes: durationOrDefault(d.SlotDurationMinutes),
			NumberOfSlots:       d.NumberOfSlots,
			BreakMinutes:        d.BreakMinutes,
		})
	}
	res, err := s.svc.CreateFlexible(c.Request.Context(), timeslots.FlexibleInput{
		OwnerID:     owner,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Days:        days,
		Timezone:    req.Timezone,
		Title:       req.Title,
		Description: req.Description,
		Busy:        busy,
	})
	if err != nil {
		writeError(c, log, err, http.StatusBadRequest)
		return
	}
	s.logBulk(log, res)
	c.JSON(http.StatusOK, toBulkResponse(res))
}

func (s *Server) logBulk(log *slog.Logger, res timeslots.BulkResult) {
	log.Info("time slots created",
		slog.Int("created", len(res.Slots)),
		slog.Int("rejected", len(res.Rejected)),
		slog.String("start_date", res.StartDate.String()),
		slog.String("end_date", res.EndDate.String()),
		slog.String("timezone", res.Timezone),
	)
}

func (s *Server) listSlots(c *gin.Context) {
	owner := ownerFrom(c)
	log := s.log.With(slog.String("route", "ListSlots"), slog.String("user_id", owner))

	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset")
	if !ok {
		return
	}
	day, ok := optionalIntQuery(c, "day_of_week")
	if !ok {
		return
	}
	slots, err := s.svc.List(c.Request.Context(), owner, timeslots.ListFilter{
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
		Timezone:  c.Query("timezone"),
		Status:    c.Query("status"),
		DayOfWeek: day,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(c, log, err, http.StatusBadRequest)
		return
	}
	log.Debug("time slots listed", slog.Int("count", len(slots)))
	c.JSON(http.StatusOK, toSlotResponses(slots))
}

// browseSlots lists another user's bookable slots.
func (s *Server) browseSlots(c *gin.Context) {
	viewer := ownerFrom(c)
	target := c.Param("user_identifier")
	log := s.log.With(slog.String("route", "BrowseSlots"), slog.String("user_id", viewer), slog.String("owner_id", target))

	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset")
	if !ok {
		return
	}
	day, ok := optionalIntQuery(c, "day_of_week")
	if !ok {
		return
	}
	slots, err := s.svc.Browse(c.Request.Context(), viewer, target, timeslots.ListFilter{
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
		Timezone:  c.Query("timezone"),
		Status:    c.Query("status"),
		DayOfWeek: day,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(c, log, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, toSlotResponses(slots))
}

func (s *Server) summary(c *gin.Context) {
	owner := ownerFrom(c)
	log := s.log.With(slog.String("route", "Summary"), slog.String("user_id", owner))

	sum, err := s.svc.Summarize(c.Request.Context(), owner)
	if err != nil {
		writeError(c, log, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, toSummaryResponse(sum))
}

func (s *Server) upcoming(c *gin.Context) {
	owner := ownerFrom(c)
	log := s.log.With(slog.String("route", "UpcomingAvailable"), slog.String("user_id", owner))

	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	slots, err := s.svc.UpcomingAvailable(c.Request.Context(), owner, limit)
	if err != nil {
		writeError(c, log, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, toSlotResponses(slots))
}

func (s *Server) getSlot(c *gin.Context) {
	owner := ownerFrom(c)
	log := s.log.With(slog.String("route", "GetSlot"), slog.String("user_id", owner))

	id, ok := slotID(c)
	if !ok {
		return
	}
	slot, err := s.svc.Get(c.Request.Context(), owner, id)
	if err != nil {
		writeError(c, log, err, http.StatusConflict)
		return
	}
	c.JSON(http.StatusOK, toSlotResponse(slot))
}

func (s *Server) updateSlot(c *gin.Context) {
	owner := ownerFrom(c)
	log := s.log.With(slog.String("route", "UpdateSlot"), slog.String("user_id", owner))

	id, ok := slotID(c)
	if !ok {
		return
	}
	var req updateSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	patch := timeslots.Patch{
		Title:       req.Title,
		Description: req.Description,
		Timezone:    req.Timezone,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	}
	if req.Status != nil {
		st := domain.SlotStatus(strings.TrimSpace(*req.Status))
		patch.Status = &st
	}

	slot, err := s.svc.Update(c.Request.Context(), owner, id, patch)
	if err != nil {
		writeError(c, log, err, http.StatusConflict)
		return
	}
	log.Info("time slot updated", slog.String("slot_id", slot.ID.String()), slog.String("status", string(slot.Status)))
	c.JSON(http.StatusOK, toSlotResponse(slot))
}

func (s *Server) deleteSlot(c *gin.Context) {
	owner := ownerFrom(c)
	log := s.log.With(slog.String("route", "DeleteSlot"), slog.String("user_id", owner))

	id, ok := slotID(c)
	if !ok {
		return
	}
	if err := s.svc.Delete(c.Request.Context(), owner, id); err != nil {
		writeError(c, log, err, http.StatusConflict)
		return
	}
	log.Info("time slot deleted", slog.String("slot_id", id.String()))
	c.Status(http.StatusNoContent)
}

func (s *Server) transition(action domain.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := ownerFrom(c)
		log := s.log.With(slog.String("route", "Transition"), slog.String("action", string(action)), slog.String("user_id", owner))

		id, ok := slotID(c)
		if !ok {
			return
		}
		slot, err := s.svc.Transition(c.Request.Context(), owner, id, action)
		if err != nil {
			writeError(c, log, err, http.StatusConflict)
			return
		}
		log.Info("time slot status changed", slog.String("slot_id", slot.ID.String()), slog.String("status", string(slot.Status)))
		c.JSON(http.StatusOK, toSlotResponse(slot))
	}
}

func slotID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "slot id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func optionalIntQuery(c *gin.Context, name string) (*int, bool) {
	if strings.TrimSpace(c.Query(name)) == "" {
		return nil, true
	}
	n, ok := intQuery(c, name)
	if !ok {
		return nil, false
	}
	return &n, true
}

// intQuery reads an optional integer query parameter; absent means zero.
func intQuery(c *gin.Context, name string) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, name+" must be an integer")
		return 0, false
	}
	return n, true
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"slotwise/backend/internal/domain"
	"slotwise/backend/internal/service/timeslots"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testSecret = "test-secret"
	testToken  = "tok-mentor"
	testOwner  = "mentor-1"
)

type fakeService struct {
	createSingle   func(ctx context.Context, in timeslots.CreateInput) (domain.Slot, error)
	createBulk     func(ctx context.Context, in timeslots.BulkInput) (timeslots.BulkResult, error)
	createDay      func(ctx context.Context, in timeslots.DayInput) (timeslots.BulkResult, error)
	createFlexible func(ctx context.Context, in timeslots.FlexibleInput) (timeslots.BulkResult, error)
	update         func(ctx context.Context, ownerID string, id uuid.UUID, p timeslots.Patch) (domain.Slot, error)
	transition     func(ctx context.Context, ownerID string, id uuid.UUID, action domain.Action) (domain.Slot, error)
	delete         func(ctx context.Context, ownerID string, id uuid.UUID) error
	get            func(ctx context.Context, ownerID string, id uuid.UUID) (domain.Slot, error)
	list           func(ctx context.Context, ownerID string, f timeslots.ListFilter) ([]domain.Slot, error)
	browse         func(ctx context.Context, viewerID, ownerID string, f timeslots.ListFilter) ([]domain.Slot, error)
	summarize      func(ctx context.Context, ownerID string) (timeslots.Summary, error)
	upcoming       func(ctx context.Context, ownerID string, limit int) ([]domain.Slot, error)
}

func (f *fakeService) CreateSingle(ctx context.Context, in timeslots.CreateInput) (domain.Slot, error) {
	if f.createSingle == nil {
		panic("unexpected CreateSingle")
	}
	return f.createSingle(ctx, in)
}

func (f *fakeService) CreateBulk(ctx context.Context, in timeslots.BulkInput) (timeslots.BulkResult, error) {
	if f.createBulk == nil {
		panic("unexpected CreateBulk")
	}
	return f.createBulk(ctx, in)
}

func (f *fakeService) CreateDay(ctx context.Context, in timeslots.DayInput) (timeslots.BulkResult, error) {
	if f.createDay == nil {
		panic("unexpected CreateDay")
	}
	return f.createDay(ctx, in)
}

func (f *fakeService) CreateFlexible(ctx context.Context, in timeslots.FlexibleInput) (timeslots.BulkResult, error) {
	if f.createFlexible == nil {
		panic("unexpected CreateFlexible")
	}
	return f.createFlexible(ctx, in)
}

func (f *fakeService) Update(ctx context.Context, ownerID string, id uuid.UUID, p timeslots.Patch) (domain.Slot, error) {
	if f.update == nil {
		panic("unexpected Update")
	}
	return f.update(ctx, ownerID, id, p)
}

func (f *fakeService) Transition(ctx context.Context, ownerID string, id uuid.UUID, action domain.Action) (domain.Slot, error) {
	if f.transition == nil {
		panic("unexpected Transition")
	}
	return f.transition(ctx, ownerID, id, action)
}

func (f *fakeService) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	if f.delete == nil {
		panic("unexpected Delete")
	}
	return f.delete(ctx, ownerID, id)
}

func (f *fakeService) Get(ctx context.Context, ownerID string, id uuid.UUID) (domain.Slot, error) {
	if f.get == nil {
		panic("unexpected Get")
	}
	return f.get(ctx, ownerID, id)
}

func (f *fakeService) List(ctx context.Context, ownerID string, lf timeslots.ListFilter) ([]domain.Slot, error) {
	if f.list == nil {
		panic("unexpected List")
	}
	return f.list(ctx, ownerID, lf)
}

func (f *fakeService) Browse(ctx context.Context, viewerID, ownerID string, lf timeslots.ListFilter) ([]domain.Slot, error) {
	if f.browse == nil {
		panic("unexpected Browse")
	}
	return f.browse(ctx, viewerID, ownerID, lf)
}

func (f *fakeService) Summarize(ctx context.Context, ownerID string) (timeslots.Summary, error) {
	if f.summarize == nil {
		panic("unexpected Summarize")
	}
	return f.summarize(ctx, ownerID)
}

func (f *fakeService) UpcomingAvailable(ctx context.Context, ownerID string, limit int) ([]domain.Slot, error) {
	if f.upcoming == nil {
		panic("unexpected UpcomingAvailable")
	}
	return f.upcoming(ctx, ownerID, limit)
}

type fakeCalendar struct {
	exchange func(ctx context.Context, code string) (*oauth2.Token, error)
	busy     timeslots.BusySource
}

func (f *fakeCalendar) AuthURL(state string) string {
	return "https://accounts.example.test/auth?state=" + state
}

func (f *fakeCalendar) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return f.exchange(ctx, code)
}

func (f *fakeCalendar) Busy(*oauth2.Token) timeslots.BusySource {
	return f.busy
}

type noBusy struct{}

func (noBusy) BusyWindows(context.Context, time.Time, time.Time) ([]domain.TimeWindow, error) {
	return nil, nil
}

func newTestServer(svc slotService, opts ...Option) http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := NewAuthenticator(testSecret, map[string]string{testToken: testOwner})
	return NewServer(svc, auth, log, opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func newYorkSlot() domain.Slot {
	start := time.Date(2024, 1, 15, 19, 0, 0, 0, time.UTC)
	s := domain.Slot{
		ID:        uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057"),
		OwnerID:   testOwner,
		Timezone:  "America/New_York",
		Title:     "Office hours",
		Status:    domain.SlotStatusAvailable,
		CreatedAt: start.Add(-48 * time.Hour),
		UpdatedAt: start.Add(-48 * time.Hour),
	}
	s.SetWindow(domain.TimeWindow{Start: start, End: start.Add(45 * time.Minute)})
	return s
}

func TestAuth(t *testing.T) {
	h := newTestServer(&fakeService{
		summarize: func(_ context.Context, owner string) (timeslots.Summary, error) {
			return timeslots.Summary{Total: len(owner)}, nil
		},
	})

	sign := func(method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
		tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return tok
	}
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"static token", "Bearer " + testToken, http.StatusOK},
		{"unknown static token", "Bearer nope", http.StatusUnauthorized},
		{"jwt sub", "Bearer " + sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "mentee-7", "exp": exp}), http.StatusOK},
		{"jwt user_id", "Bearer " + sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"user_id": "mentee-8", "exp": exp}), http.StatusOK},
		{"jwt wrong secret", "Bearer " + sign(jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "x", "exp": exp}), http.StatusUnauthorized},
		{"jwt expired", "Bearer " + sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"jwt none alg", "Bearer " + sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "x", "exp": exp}), http.StatusUnauthorized},
		{"jwt without owner", "Bearer " + sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"exp": exp}), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/time-slots/summary", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAuthenticator_OwnerFromClaims(t *testing.T) {
	a := NewAuthenticator(testSecret, nil)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     "subject",
		"user_id": "explicit",
		"exp":     time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	owner, err := a.Owner(tok)
	require.NoError(t, err)
	require.Equal(t, "explicit", owner)
}

func TestCreateSlot(t *testing.T) {
	slot := newYorkSlot()
	var got timeslots.CreateInput
	h := newTestServer(&fakeService{
		createSingle: func(_ context.Context, in timeslots.CreateInput) (domain.Slot, error) {
			got = in
			return slot, nil
		},
	})

	rec := do(t, h, http.MethodPost, "/time-slots", map[string]any{
		"start_time": "2024-01-15T19:00:00Z",
		"end_time":   "2024-01-15T19:45:00Z",
		"timezone":   "America/New_York",
		"title":      "Office hours",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, testOwner, got.OwnerID)
	require.True(t, got.StartTime.Equal(slot.StartTime))
	require.Equal(t, "America/New_York", got.Timezone)

	body := decode[map[string]any](t, rec)
	require.Equal(t, slot.ID.String(), body["id"])
	require.Equal(t, testOwner, body["user_id"])
	require.Equal(t, "2024-01-15T19:00:00Z", body["start_time"])
	require.Equal(t, "2024-01-15T14:00:00-05:00", body["start_time_local"])
	require.Equal(t, "2024-01-15T14:45:00-05:00", body["end_time_local"])
	require.Equal(t, "-05:00", body["timezone_offset"])
	require.Equal(t, float64(0), body["day_of_week"])
	require.Equal(t, "Monday", body["day_name"])
	require.Equal(t, "Office hours", body["title"])
	require.Nil(t, body["description"])
	require.Equal(t, "available", body["status"])
	require.Equal(t, false, body["is_recurring"])
	require.Nil(t, body["recurring_pattern"])
	require.Equal(t, float64(45), body["duration_minutes"])
}

func TestCreateSlot_StatusMustBeAvailable(t *testing.T) {
	slot := newYorkSlot()
	h := newTestServer(&fakeService{
		createSingle: func(context.Context, timeslots.CreateInput) (domain.Slot, error) {
			return slot, nil
		},
	})
	body := func(status string) map[string]any {
		return map[string]any{
			"start_time": "2024-01-15T19:00:00Z",
			"end_time":   "2024-01-15T19:45:00Z",
			"status":     status,
		}
	}

	for _, status := range []string{"blocked", "booked", "cancelled", "pending"} {
		rec := do(t, h, http.MethodPost, "/time-slots", body(status))
		require.Equal(t, http.StatusBadRequest, rec.Code, status)
	}
	rec := do(t, h, http.MethodPost, "/time-slots", body("available"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateSlot_InvalidBody(t *testing.T) {
	h := newTestServer(&fakeService{})
	req := httptest.NewRequest(http.MethodPost, "/time-slots", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	id := uuid.New()
	conflict := &timeslots.ConflictError{Window: domain.TimeWindow{
		Start: time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC),
	}}

	tests := []struct {
		name    string
		svc     *fakeService
		method  string
		path    string
		body    any
		status  int
		message string
	}{
		{
			name: "validation on create",
			svc: &fakeService{createSingle: func(context.Context, timeslots.CreateInput) (domain.Slot, error) {
				return domain.Slot{}, &timeslots.ValidationError{}
			}},
			method: http.MethodPost, path: "/time-slots", body: map[string]any{},
			status: http.StatusBadRequest,
		},
		{
			name: "conflict on create",
			svc: &fakeService{createSingle: func(context.Context, timeslots.CreateInput) (domain.Slot, error) {
				return domain.Slot{}, conflict
			}},
			method: http.MethodPost, path: "/time-slots", body: map[string]any{},
			status: http.StatusBadRequest, message: conflict.Error(),
		},
		{
			name: "conflict on update",
			svc: &fakeService{update: func(context.Context, string, uuid.UUID, timeslots.Patch) (domain.Slot, error) {
				return domain.Slot{}, conflict
			}},
			method: http.MethodPut, path: "/time-slots/" + id.String(), body: map[string]any{"title": "x"},
			status: http.StatusConflict, message: conflict.Error(),
		},
		{
			name: "illegal transition",
			svc: &fakeService{transition: func(context.Context, string, uuid.UUID, domain.Action) (domain.Slot, error) {
				return domain.Slot{}, &timeslots.StateError{From: domain.SlotStatusCancelled, To: domain.SlotStatusBooked}
			}},
			method: http.MethodPost, path: "/time-slots/" + id.String() + "/book",
			status: http.StatusConflict, message: "cannot change slot status from cancelled to booked",
		},
		{
			name: "foreign owner looks missing",
			svc: &fakeService{get: func(context.Context, string, uuid.UUID) (domain.Slot, error) {
				return domain.Slot{}, &timeslots.AuthorizationError{SlotID: id}
			}},
			method: http.MethodGet, path: "/time-slots/" + id.String(),
			status: http.StatusNotFound, message: "time slot not found",
		},
		{
			name: "not found",
			svc: &fakeService{delete: func(context.Context, string, uuid.UUID) error {
				return &timeslots.NotFoundError{SlotID: id}
			}},
			method: http.MethodDelete, path: "/time-slots/" + id.String(),
			status: http.StatusNotFound, message: "time slot not found",
		},
		{
			name: "calendar unavailable",
			svc: &fakeService{createBulk: func(context.Context, timeslots.BulkInput) (timeslots.BulkResult, error) {
				return timeslots.BulkResult{}, fmt.Errorf("%w: timeout", timeslots.ErrCalendarUnavailable)
			}},
			method: http.MethodPost, path: "/time-slots/bulk", body: map[string]any{},
			status: http.StatusBadGateway, message: "calendar unavailable",
		},
		{
			name: "internal",
			svc: &fakeService{list: func(context.Context, string, timeslots.ListFilter) ([]domain.Slot, error) {
				return nil, errors.New("connection reset")
			}},
			method: http.MethodGet, path: "/time-slots",
			status: http.StatusInternalServerError, message: "internal error",
		},
		{
			name:   "bad slot id",
			svc:    &fakeService{},
			method: http.MethodGet, path: "/time-slots/not-a-uuid",
			status: http.StatusBadRequest, message: "slot id must be a UUID",
		},
		{
			name:   "bad limit",
			svc:    &fakeService{},
			method: http.MethodGet, path: "/time-slots?limit=ten",
			status: http.StatusBadRequest, message: "limit must be an integer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(tt.svc), tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.message != "" {
				require.Equal(t, tt.message, decode[map[string]string](t, rec)["error"])
			}
		})
	}
}

func TestCreateBulk_ResponseShape(t *testing.T) {
	slot := newYorkSlot()
	pattern := domain.RecurringPatternWeekly
	slot.IsRecurring = true
	slot.RecurringPattern = &pattern
	past := domain.TimeWindow{Start: slot.StartTime.Add(-time.Hour), End: slot.StartTime.Add(-15 * time.Minute)}

	var got timeslots.BulkInput
	h := newTestServer(&fakeService{
		createBulk: func(_ context.Context, in timeslots.BulkInput) (timeslots.BulkResult, error) {
			got = in
			return timeslots.BulkResult{
				Slots: []domain.Slot{slot},
				Rejected: []timeslots.Rejection{
					{Window: past, Reason: timeslots.RejectConflictsExisting, ConflictsWith: &past},
				},
				StartDate: domain.Date{Year: 2024, Month: 1, Day: 15},
				EndDate:   domain.Date{Year: 2024, Month: 1, Day: 19},
				Timezone:  "America/New_York",
			}, nil
		},
	})

	rec := do(t, h, http.MethodPost, "/time-slots/bulk", map[string]any{
		"start_date":   "2024-01-15",
		"end_date":     "2024-01-19",
		"start_time":   "14:00",
		"end_time":     "18:00",
		"days_of_week": []int{0, 1, 2, 3, 4},
		"timezone":     "America/New_York",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 45, got.SlotDurationMinutes)
	require.Equal(t, []int{0, 1, 2, 3, 4}, got.DaysOfWeek)
	require.Nil(t, got.Busy)

	var body struct {
		Success      bool              `json:"success"`
		Message      string            `json:"message"`
		SlotsCreated int               `json:"slots_created"`
		Slots        []map[string]any  `json:"slots"`
		Rejected     []map[string]any  `json:"rejected"`
		DateRange    map[string]string `json:"date_range"`
		Timezone     string            `json:"timezone"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Equal(t, "1 slot created, 1 slot rejected", body.Message)
	require.Equal(t, 1, body.SlotsCreated)
	require.Len(t, body.Slots, 1)
	require.Equal(t, "weekly", body.Slots[0]["recurring_pattern"])
	require.Equal(t, true, body.Slots[0]["is_recurring"])
	require.Len(t, body.Rejected, 1)
	require.Equal(t, "conflicts_with_existing_slot", body.Rejected[0]["reason"])
	require.NotNil(t, body.Rejected[0]["conflicts_with"])
	require.Equal(t, map[string]string{"start": "2024-01-15", "end": "2024-01-19"}, body.DateRange)
	require.Equal(t, "America/New_York", body.Timezone)
}

func TestCreateBulk_GoogleToken(t *testing.T) {
	busy := noBusy{}
	var got timeslots.BusySource
	svc := &fakeService{
		createBulk: func(_ context.Context, in timeslots.BulkInput) (timeslots.BulkResult, error) {
			got = in.Busy
			return timeslots.BulkResult{}, nil
		},
	}
	h := newTestServer(svc, WithCalendar(&fakeCalendar{busy: busy}))

	rec := do(t, h, http.MethodPost, "/time-slots/bulk", map[string]any{}, googleTokenHeader, `{"access_token":"ya29.x"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, busy, got)

	rec = do(t, h, http.MethodPost, "/time-slots/bulk", map[string]any{}, googleTokenHeader, `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Without the integration the header is ignored.
	got = nil
	h = newTestServer(svc)
	rec = do(t, h, http.MethodPost, "/time-slots/bulk", map[string]any{}, googleTokenHeader, `{"access_token":"ya29.x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, got)
}

func TestCreateDayAndFlexible(t *testing.T) {
	var day timeslots.DayInput
	var flex timeslots.FlexibleInput
	h := newTestServer(&fakeService{
		createDay: func(_ context.Context, in timeslots.DayInput) (timeslots.BulkResult, error) {
			day = in
			return timeslots.BulkResult{}, nil
		},
		createFlexible: func(_ context.Context, in timeslots.FlexibleInput) (timeslots.BulkResult, error) {
			flex = in
			return timeslots.BulkResult{}, nil
		},
	})

	rec := do(t, h, http.MethodPost, "/time-slots/day", map[string]any{
		"date":       "2024-01-16",
		"timezone":   "Europe/Berlin",
		"time_slots": []map[string]string{{"start_time": "09:00", "end_time": "09:30"}, {"start_time": "10:00", "end_time": "11:00"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "2024-01-16", day.Date)
	require.Equal(t, []timeslots.WindowInput{{StartTime: "09:00", EndTime: "09:30"}, {StartTime: "10:00", EndTime: "11:00"}}, day.Windows)
	require.Equal(t, "0 slots created", decode[map[string]any](t, rec)["message"])

	rec = do(t, h, http.MethodPost, "/time-slots/flexible", map[string]any{
		"start_date": "2024-01-15",
		"end_date":   "2024-01-21",
		"day_configs": []map[string]any{
			{"day_of_week": 0, "start_time": "09:00", "end_time": "12:00", "slot_duration_minutes": 60, "number_of_slots": 2, "break_minutes": 15},
			{"day_of_week": 2, "start_time": "13:00", "end_time": "15:00"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, flex.Days, 2)
	require.Equal(t, timeslots.DayConfig{DayOfWeek: 0, StartTime: "09:00", EndTime: "12:00", SlotDurationMinutes: 60, NumberOfSlots: 2, BreakMinutes: 15}, flex.Days[0])
	require.Equal(t, 45, flex.Days[1].SlotDurationMinutes)
}

func TestListSummaryUpcoming(t *testing.T) {
	slot := newYorkSlot()
	var filter timeslots.ListFilter
	var upcomingLimit int
	h := newTestServer(&fakeService{
		list: func(_ context.Context, owner string, f timeslots.ListFilter) ([]domain.Slot, error) {
			require.Equal(t, testOwner, owner)
			filter = f
			return []domain.Slot{slot}, nil
		},
		summarize: func(context.Context, string) (timeslots.Summary, error) {
			return timeslots.Summary{Total: 3, Available: 2, Booked: 1, Upcoming: 2, NextAvailable: &slot, Recent: []domain.Slot{slot}}, nil
		},
		upcoming: func(_ context.Context, _ string, limit int) ([]domain.Slot, error) {
			upcomingLimit = limit
			return nil, nil
		},
	})

	rec := do(t, h, http.MethodGet, "/time-slots?start_date=2024-01-15&end_date=2024-01-19&timezone=UTC&status=available&limit=20&offset=40", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, timeslots.ListFilter{StartDate: "2024-01-15", EndDate: "2024-01-19", Timezone: "UTC", Status: "available", Limit: 20, Offset: 40}, filter)
	require.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/time-slots/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[map[string]any](t, rec)
	require.Equal(t, float64(3), sum["total_slots"])
	require.Equal(t, float64(2), sum["available_slots"])
	require.Equal(t, float64(1), sum["booked_slots"])
	require.Equal(t, float64(2), sum["upcoming_slots"])
	require.NotNil(t, sum["next_available_slot"])
	require.Len(t, sum["recent_slots"], 1)

	rec = do(t, h, http.MethodGet, "/time-slots/available/upcoming?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, upcomingLimit)
	require.Equal(t, "[]", rec.Body.String())
}

func TestBrowseOtherUser(t *testing.T) {
	slot := newYorkSlot()
	var viewer, target string
	var filter timeslots.ListFilter
	h := newTestServer(&fakeService{
		browse: func(_ context.Context, v, o string, f timeslots.ListFilter) ([]domain.Slot, error) {
			viewer, target, filter = v, o, f
			return []domain.Slot{slot}, nil
		},
	})

	rec := do(t, h, http.MethodGet, "/time-slots/user/mentor-9?day_of_week=2&timezone=Europe/Paris&limit=10&offset=5", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, testOwner, viewer)
	require.Equal(t, "mentor-9", target)
	require.NotNil(t, filter.DayOfWeek)
	require.Equal(t, 2, *filter.DayOfWeek)
	require.Equal(t, "Europe/Paris", filter.Timezone)
	require.Equal(t, 10, filter.Limit)
	require.Equal(t, 5, filter.Offset)
	require.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/time-slots/user/mentor-9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, filter.DayOfWeek)

	rec = do(t, h, http.MethodGet, "/time-slots/user/mentor-9?day_of_week=tue", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateTransitionDelete(t *testing.T) {
	slot := newYorkSlot()
	var patch timeslots.Patch
	var action domain.Action
	var deleted uuid.UUID
	h := newTestServer(&fakeService{
		update: func(_ context.Context, _ string, id uuid.UUID, p timeslots.Patch) (domain.Slot, error) {
			require.Equal(t, slot.ID, id)
			patch = p
			return slot, nil
		},
		transition: func(_ context.Context, _ string, _ uuid.UUID, a domain.Action) (domain.Slot, error) {
			action = a
			out := slot
			out.Status = a.Target()
			return out, nil
		},
		delete: func(_ context.Context, _ string, id uuid.UUID) error {
			deleted = id
			return nil
		},
	})

	rec := do(t, h, http.MethodPut, "/time-slots/"+slot.ID.String(), map[string]any{"title": "Renamed", "status": "blocked"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Renamed", *patch.Title)
	require.Equal(t, domain.SlotStatusBlocked, *patch.Status)
	require.Nil(t, patch.StartTime)
	require.Nil(t, patch.Description)

	for _, a := range []domain.Action{domain.ActionBook, domain.ActionUnbook, domain.ActionBlock, domain.ActionUnblock, domain.ActionCancel} {
		rec = do(t, h, http.MethodPost, "/time-slots/"+slot.ID.String()+"/"+string(a), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, a, action)
		require.Equal(t, string(a.Target()), decode[map[string]any](t, rec)["status"])
	}

	rec = do(t, h, http.MethodDelete, "/time-slots/"+slot.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, slot.ID, deleted)
}

func TestHealthAndReadiness(t *testing.T) {
	dbUp := true
	h := newTestServer(&fakeService{}, WithReadyChecks(ReadyCheck{
		Name: "postgres",
		Check: func(context.Context) error {
			if dbUp {
				return nil
			}
			return errors.New("connection refused")
		},
	}))

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	dbUp = false
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "postgres")
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestServer(&fakeService{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	h.ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Len(t, rec.Header().Get(RequestIDHeader), 32)
}

func TestCalendarEndpoints(t *testing.T) {
	cal := &fakeCalendar{
		exchange: func(_ context.Context, code string) (*oauth2.Token, error) {
			if code != "good" {
				return nil, errors.New("invalid_grant")
			}
			return &oauth2.Token{AccessToken: "ya29.x", TokenType: "Bearer"}, nil
		},
	}
	h := newTestServer(&fakeService{}, WithCalendar(cal), WithStateKey([]byte("state-key")))

	rec := do(t, h, http.MethodGet, "/calendar/auth", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	auth := decode[map[string]string](t, rec)
	state := auth["state"]
	require.NotEmpty(t, state)
	require.Contains(t, auth["auth_url"], state)

	callback := func(h http.Handler, query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2callback?"+query, nil))
		return rec
	}

	rec = callback(h, "code=good&state="+state)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cb := decode[map[string]string](t, rec)
	require.Equal(t, state, cb["state"])
	require.Equal(t, testOwner, cb["user_id"])
	require.Contains(t, cb["token"], "ya29.x")

	rec = callback(h, "code=bad&state="+state)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	rec = callback(h, "state="+state)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// States not signed by this server never reach the code exchange.
	other := newTestServer(&fakeService{}, WithCalendar(cal), WithStateKey([]byte("other-key")))
	for _, query := range []string{
		"code=good",
		"code=good&state=" + testOwner + ".0123456789abcdef",
		"code=good&state=" + state + "x",
	} {
		rec = callback(h, query)
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
	rec = callback(other, "code=good&state="+state)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, newTestServer(&fakeService{}), http.MethodGet, "/calendar/auth", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOAuthState(t *testing.T) {
	s := NewServer(&fakeService{}, NewAuthenticator(testSecret, nil), nil, WithStateKey([]byte("state-key")))

	fresh, err := s.issueState(testOwner, time.Now())
	require.NoError(t, err)
	owner, err := s.verifyState(fresh)
	require.NoError(t, err)
	require.Equal(t, testOwner, owner)

	stale, err := s.issueState(testOwner, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = s.verifyState(stale)
	require.ErrorIs(t, err, errInvalidState)

	// A bearer JWT signed with the same key lacks the state audience.
	bearer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": testOwner,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("state-key"))
	require.NoError(t, err)
	_, err = s.verifyState(bearer)
	require.ErrorIs(t, err, errInvalidState)
}

func TestRateLimiter_FailsOpenWithoutRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := newTestServer(&fakeService{
		summarize: func(context.Context, string) (timeslots.Summary, error) { return timeslots.Summary{}, nil },
	}, WithRateLimiter(NewRateLimiter(rdb, 1, time.Minute, log)))

	for range 3 {
		rec := do(t, h, http.MethodGet, "/time-slots/summary", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestScriptCount(t *testing.T) {
	n, err := scriptCount(int64(3))
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	n, err = scriptCount("7")
	require.NoError(t, err)
	require.Equal(t, int64(7), n)

	_, err = scriptCount([]byte("x"))
	require.Error(t, err)
}

func TestBulkMessage(t *testing.T) {
	require.Equal(t, "25 slots created", bulkMessage(25, 0))
	require.Equal(t, "22 slots created, 3 slots rejected", bulkMessage(22, 3))
	require.Equal(t, "no slots created, 1 slot rejected", bulkMessage(0, 1))
}

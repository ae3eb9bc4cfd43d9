package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/campus-shuttle/internal/access"
	"github.com/iliyamo/campus-shuttle/internal/alert"
	"github.com/iliyamo/campus-shuttle/internal/handler"
	"github.com/iliyamo/campus-shuttle/internal/identity"
	"github.com/iliyamo/campus-shuttle/internal/model"
	"github.com/iliyamo/campus-shuttle/internal/passenger"
	"github.com/iliyamo/campus-shuttle/internal/queue"
	"github.com/iliyamo/campus-shuttle/internal/router"
	"github.com/iliyamo/campus-shuttle/internal/seating"
	"github.com/iliyamo/campus-shuttle/internal/store"
	"github.com/iliyamo/campus-shuttle/internal/utils"
)

const (
	secret  = "test-secret"
	vehicle = "ABC1D23"
)

type sink struct {
	mu     sync.Mutex
	seats  []queue.SeatChangedEvent
	alerts []queue.AlertPostedEvent
}

func (s *sink) SeatChanged(_ context.Context, ev queue.SeatChangedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seats = append(s.seats, ev)
	return nil
}

func (s *sink) AlertPosted(_ context.Context, ev queue.AlertPostedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, ev)
	return nil
}

func (s *sink) seatEvents() []queue.SeatChangedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]queue.SeatChangedEvent(nil), s.seats...)
}

func (s *sink) alertEvents() []queue.AlertPostedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]queue.AlertPostedEvent(nil), s.alerts...)
}

type shuttle struct {
	t      *testing.T
	mem    *store.Memory
	e      *echo.Echo
	events *sink
}

func newShuttle(t *testing.T) *shuttle {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()
	riders := map[string]store.Fields{
		"alice":  {"name": "Alice", "role": "STUDENT", "campus": "Unip", model.FieldVehicle: vehicle, model.FieldStatusTag: "waiting"},
		"bob":    {"name": "Bob", "role": "STUDENT", "campus": "Unip", model.FieldVehicle: vehicle, model.FieldStatusTag: "in_class"},
		"carol":  {"name": "Carol", "role": "STUDENT", "campus": "Centro"},
		"driver": {"name": "Davi", "role": "DRIVER"},
	}
	for id, f := range riders {
		require.NoError(t, mem.Set(ctx, model.RiderPath(id), f))
	}
	for _, id := range []string{"2A", "1B", "1A"} {
		require.NoError(t, mem.Set(ctx, model.SeatPath(vehicle, id), store.Fields{"status": "free"}))
	}

	guarded := access.Guard(mem)
	seats := seating.NewRegistry(guarded, time.Minute, seating.WithClaimMode(seating.Conditional))
	t.Cleanup(seats.Close)
	profiles := identity.NewProvider(mem)
	events := &sink{}

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(testConfig(), nil, nil, profiles), secret)
	v1 := router.Protected(e, secret, profiles)
	pass := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	ping := 5 * time.Second
	router.RegisterSeats(v1, handler.NewSeatHandler(seats, guarded, events, ping), pass)
	router.RegisterPassengers(v1, handler.NewPassengerHandler(passenger.NewAggregator(guarded), vehicle, ping), pass)
	router.RegisterAlerts(v1, handler.NewAlertHandler(alert.NewService(guarded, []string{"Unip", "Centro"}), events, 10, ping), pass, pass)

	return &shuttle{t: t, mem: mem, e: e, events: events}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	at, err := utils.NewAccessToken(secret, userID, role, 5)
	require.NoError(t, err)
	return at.Token
}

func (s *shuttle) do(method, path, user, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != "" {
		role := "STUDENT"
		if user == "driver" {
			role = "DRIVER"
		}
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(s.t, user, role))
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

type seatMap struct {
	VehicleID string `json:"vehicle_id"`
	Seats     []struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Mine     bool   `json:"mine"`
		Occupant string `json:"occupant"`
	} `json:"seats"`
}

func (s *shuttle) seats(user string) seatMap {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/v1/vehicles/"+vehicle+"/seats", user, "")
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var m seatMap
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestHealth(t *testing.T) {
	s := newShuttle(t)
	rec := s.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRoutesRequireToken(t *testing.T) {
	s := newShuttle(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/vehicles/"+vehicle+"/seats", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/me", "", "").Code)
	// A valid token without a profile document.
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/me", "ghost", "").Code)
}

func TestMe(t *testing.T) {
	s := newShuttle(t)
	rec := s.do(http.MethodGet, "/v1/me", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p model.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, "Unip", p.Campus)
	assert.Equal(t, vehicle, p.VehicleID)
}

func TestSeatMapIsOrdered(t *testing.T) {
	s := newShuttle(t)
	m := s.seats("alice")
	assert.Equal(t, vehicle, m.VehicleID)
	require.Len(t, m.Seats, 3)
	assert.Equal(t, "1A", m.Seats[0].ID)
	assert.Equal(t, "1B", m.Seats[1].ID)
	assert.Equal(t, "2A", m.Seats[2].ID)
}

func TestClaimShowsMineAndHidesOccupant(t *testing.T) {
	s := newShuttle(t)
	path := "/v1/vehicles/" + vehicle + "/seats/1B/action"

	rec := s.do(http.MethodPost, path, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"action":"claimed","seat_id":"1B"}`, rec.Body.String())

	require.Eventually(t, func() bool { return s.seats("alice").Seats[1].Mine }, time.Second, 10*time.Millisecond)
	bob := s.seats("bob").Seats[1]
	assert.Equal(t, "occupied", bob.Status)
	assert.False(t, bob.Mine)
	assert.Empty(t, bob.Occupant)
	assert.Equal(t, "alice", s.seats("driver").Seats[1].Occupant)

	// The operator's tap reveals the occupant and changes nothing.
	rec = s.do(http.MethodPost, path, "driver", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"action":"inspected","seat_id":"1B","occupant":"alice"}`, rec.Body.String())

	require.Eventually(t, func() bool { return len(s.events.seatEvents()) == 1 }, time.Second, 10*time.Millisecond)
	ev := s.events.seatEvents()[0]
	assert.Equal(t, "claimed", ev.Action)
	assert.Equal(t, "alice", ev.RiderID)
	assert.Equal(t, "conditional", ev.Mode)
}

func TestSeatActionErrors(t *testing.T) {
	s := newShuttle(t)
	base := "/v1/vehicles/" + vehicle + "/seats/"

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"1A/action", "alice", "").Code)

	// Conditional claims reject the loser even on a stale view.
	rec := s.do(http.MethodPost, base+"1A/action", "bob", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"seat taken"}`, rec.Body.String())

	require.Eventually(t, func() bool { return s.seats("alice").Seats[0].Mine }, time.Second, 10*time.Millisecond)
	rec = s.do(http.MethodPost, base+"2A/action", "alice", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"already holding a seat"}`, rec.Body.String())

	rec = s.do(http.MethodPost, base+"9Z/action", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, base+"2A/action", "driver", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"action":"none","seat_id":"2A"}`, rec.Body.String())

	// Releasing the own seat frees it.
	rec = s.do(http.MethodPost, base+"1A/action", "alice", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"action":"released","seat_id":"1A"}`, rec.Body.String())
}

func TestUnknownVehicleIsNotFound(t *testing.T) {
	s := newShuttle(t)
	for _, path := range []string{
		"/v1/vehicles/NOPE000/seats",
		"/v1/vehicles/NOPE000/seats/live",
	} {
		rec := s.do(http.MethodGet, path, "alice", "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.JSONEq(t, `{"error":"vehicle not found"}`, rec.Body.String())
	}
	rec := s.do(http.MethodPost, "/v1/vehicles/NOPE000/seats/1A/action", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, s.mem.Subscribers())
}

func TestStorageDownIsRetryable(t *testing.T) {
	s := newShuttle(t)
	s.seats("alice")
	s.mem.SetFailure(assert.AnError)
	rec := s.do(http.MethodPost, "/v1/vehicles/"+vehicle+"/seats/1A/action", "driver", "")
	// Profile lookup fails first.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"retryable":true`)
}

type counts struct {
	VehicleID string `json:"vehicle_id"`
	Total     int    `json:"total"`
	Counts    []struct {
		Status string `json:"status"`
		Label  string `json:"label"`
		Count  int    `json:"count"`
	} `json:"counts"`
}

func (c counts) of(status string) int {
	for _, k := range c.Counts {
		if k.Status == status {
			return k.Count
		}
	}
	return -1
}

func (s *shuttle) counts(user, query string) (int, counts) {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/v1/passengers/counts"+query, user, "")
	var c counts
	if rec.Code == http.StatusOK {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &c))
	}
	return rec.Code, c
}

func TestPassengerCounts(t *testing.T) {
	s := newShuttle(t)

	code, c := s.counts("alice", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, vehicle, c.VehicleID)
	assert.Equal(t, 2, c.Total)
	assert.Equal(t, 1, c.of("waiting"))
	assert.Equal(t, 1, c.of("in_class"))
	assert.Equal(t, 0, c.of("on_bus"))

	// Operators see the default vehicle.
	code, c = s.counts("driver", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, c.Total)

	code, _ = s.counts("carol", "")
	assert.Equal(t, http.StatusPreconditionFailed, code)

	// Riders cannot look at another vehicle.
	code, _ = s.counts("carol", "?vehicle_id="+vehicle)
	assert.Equal(t, http.StatusPreconditionFailed, code)
	code, c = s.counts("alice", "?vehicle_id=OTHER1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, vehicle, c.VehicleID)
	assert.Equal(t, 2, c.Total)

	code, c = s.counts("driver", "?vehicle_id=OTHER1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OTHER1", c.VehicleID)
	assert.Equal(t, 0, c.Total)
}

func TestOwnStatusAndCheckIn(t *testing.T) {
	s := newShuttle(t)

	rec := s.do(http.MethodPut, "/v1/me/status", "alice", `{"status":"on_bus"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, c := s.counts("alice", "")
	assert.Equal(t, 1, c.of("on_bus"))
	assert.Equal(t, 0, c.of("waiting"))

	rec = s.do(http.MethodPut, "/v1/me/status", "alice", `{"status":"sleeping"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/v1/me/status", "carol", `{"status":"waiting"}`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = s.do(http.MethodPut, "/v1/me/status", "driver", `{"status":"waiting"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/v1/me/check-in", "carol", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"vehicle_id":"ABC1D23","status":"waiting"}`, rec.Body.String())
	_, c = s.counts("carol", "")
	assert.Equal(t, 3, c.Total)

	rec = s.do(http.MethodPost, "/v1/me/check-out", "alice", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	code, _ := s.counts("alice", "")
	assert.Equal(t, http.StatusPreconditionFailed, code)
	_, c = s.counts("carol", "")
	assert.Equal(t, 2, c.Total)
}

func TestAlerts(t *testing.T) {
	s := newShuttle(t)

	rec := s.do(http.MethodGet, "/v1/channels", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"channels":["Unip","Centro"]}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/v1/channels/unip/alerts", "driver", `{"text":"  Leaving in 5 minutes "}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg model.AlertMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "Leaving in 5 minutes", msg.Text)
	assert.Equal(t, "Davi", msg.AuthorName)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/v1/channels/Unip/alerts", "alice", `{"text":"hi"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/channels/Unip/alerts", "driver", `{"text":"   "}`).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/v1/channels/Mars/alerts", "driver", `{"text":"hi"}`).Code)

	rec = s.do(http.MethodGet, "/v1/channels/Unip/alerts", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Channel string               `json:"channel"`
		Alerts  []model.AlertMessage `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "Unip", list.Channel)
	require.Len(t, list.Alerts, 1)
	assert.Equal(t, msg.ID, list.Alerts[0].ID)

	// Riders only read their own campus.
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/v1/channels/Centro/alerts", "alice", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/channels/Centro/alerts", "driver", "").Code)

	require.Eventually(t, func() bool { return len(s.events.alertEvents()) == 1 }, time.Second, 10*time.Millisecond)
	ev := s.events.alertEvents()[0]
	assert.Equal(t, "Unip", ev.Channel)
	assert.Equal(t, msg.ID, ev.MessageID)
}

type frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func dial(t *testing.T, srv *httptest.Server, path, user, role string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?access_token=" + token(t, user, role)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		_ = resp.Body.Close()
	})
	return conn
}

// readUntil reads frames until ok accepts one or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, ok func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if ok(f) {
			return f
		}
	}
}

func TestLiveSeats(t *testing.T) {
	s := newShuttle(t)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	conn := dial(t, srv, "/v1/vehicles/"+vehicle+"/seats/live", "bob", "STUDENT")
	f := readUntil(t, conn, func(f frame) bool { return f.Type == "seats" })
	var seats []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Mine   bool   `json:"mine"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &seats))
	require.Len(t, seats, 3)
	assert.Equal(t, "free", seats[0].Status)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/vehicles/"+vehicle+"/seats/1A/action", "bob", "").Code)
	readUntil(t, conn, func(f frame) bool {
		require.NoError(t, json.Unmarshal(f.Data, &seats))
		return seats[0].Status == "occupied" && seats[0].Mine
	})
}

func TestLiveCountsAndAlerts(t *testing.T) {
	s := newShuttle(t)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	countsConn := dial(t, srv, "/v1/passengers/live", "driver", "DRIVER")
	alertsConn := dial(t, srv, "/v1/channels/Unip/alerts/live", "alice", "STUDENT")
	readUntil(t, countsConn, func(f frame) bool { return f.Type == "counts" })
	readUntil(t, alertsConn, func(f frame) bool { return f.Type == "alerts" })

	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/v1/me/status", "bob", `{"status":"on_bus"}`).Code)
	readUntil(t, countsConn, func(f frame) bool {
		var c counts
		require.NoError(t, json.Unmarshal(f.Data, &c))
		return c.of("on_bus") == 1
	})

	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/v1/channels/Unip/alerts", "driver", `{"text":"Bus is here"}`).Code)
	readUntil(t, alertsConn, func(f frame) bool {
		var msgs []model.AlertMessage
		require.NoError(t, json.Unmarshal(f.Data, &msgs))
		return len(msgs) == 1 && msgs[0].Text == "Bus is here"
	})
}

func TestLiveRejectsForeignChannel(t *testing.T) {
	s := newShuttle(t)
	rec := s.do(http.MethodGet, "/v1/channels/Centro/alerts/live", "alice", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

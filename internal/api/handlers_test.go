package api

import (
	"alcyxob/fitness-booking/internal/domain"
	"alcyxob/fitness-booking/internal/lock"
	"alcyxob/fitness-booking/internal/repository/sqlite"
	"alcyxob/fitness-booking/internal/service"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testSecret = "test-secret"

type testServer struct {
	router *gin.Engine
	admin  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	classRepo := sqlite.NewClassRepository(store)
	reservationRepo := sqlite.NewReservationRepository(store)
	locker := lock.NewKeyedMutex(0)

	bookingService := service.NewBookingService(classRepo, reservationRepo, store, locker, nil)
	queryService := service.NewBookingQueryService(classRepo, reservationRepo)
	classService := service.NewClassService(classRepo, reservationRepo, locker, nil, nil)
	rosterService := service.NewRosterService(classRepo, reservationRepo, nil, 0)

	router := gin.New()
	SetupRoutes(router, testSecret,
		NewBookingHandler(bookingService, queryService, nil),
		NewClassHandler(classService, bookingService, rosterService),
		NewAdminHandler(classService),
		nil,
	)
	return &testServer{router: router, admin: signToken(t, primitive.NewObjectID().Hex(), domain.RoleAdmin, time.Hour)}
}

func signToken(t *testing.T, uid string, role domain.Role, ttl time.Duration) string {
	t.Helper()
	claims := jwtClaims{
		UserID: uid,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func memberToken(t *testing.T) string {
	return signToken(t, primitive.NewObjectID().Hex(), domain.RoleMember, time.Hour)
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["code"]
}

func (s *testServer) createClass(t *testing.T, capacity int, date time.Time) ClassResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/classes", s.admin, ClassRequest{
		Title:       "Boxing",
		Trainer:     "Kim",
		Description: "Pads and bags",
		Date:        date.UTC().Format(time.RFC3339),
		Time:        "19:00",
		Duration:    60,
		Capacity:    capacity,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[ClassResponse](t, w)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Server is running!"}`, w.Body.String())
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/bookings/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeUnauthorized, errorCode(t, w))

	expired := signToken(t, primitive.NewObjectID().Hex(), domain.RoleMember, -time.Minute)
	w = s.do(t, http.MethodGet, "/api/bookings/me", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	badRole := signToken(t, primitive.NewObjectID().Hex(), domain.Role("trainer"), time.Hour)
	w = s.do(t, http.MethodGet, "/api/bookings/me", badRole, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/classes", memberToken(t), ClassRequest{})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, codeForbidden, errorCode(t, w))
}

func TestReserveFlow(t *testing.T) {
	s := newTestServer(t)
	class := s.createClass(t, 1, time.Now().Add(48*time.Hour))
	member := memberToken(t)

	w := s.do(t, http.MethodPost, "/api/bookings", member, ReserveRequest{ClassID: class.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	reservation := decode[ReservationResponse](t, w)
	assert.Equal(t, "booked", reservation.Status)
	assert.Equal(t, class.ID, reservation.ClassID)

	// Same member again: the class is full first.
	w = s.do(t, http.MethodPost, "/api/bookings", member, ReserveRequest{ClassID: class.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeClassFull, errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/bookings", memberToken(t), ReserveRequest{ClassID: class.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeClassFull, errorCode(t, w))

	w = s.do(t, http.MethodGet, "/api/classes/"+class.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[ClassResponse](t, w)
	assert.Equal(t, 1, got.OccupiedSeats)
	assert.Equal(t, 0, got.SpotsLeft)
}

func TestReserve_Errors(t *testing.T) {
	s := newTestServer(t)
	member := memberToken(t)
	class := s.createClass(t, 5, time.Now().Add(48*time.Hour))

	w := s.do(t, http.MethodPost, "/api/bookings", member, ReserveRequest{ClassID: "not-an-id"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeInvalidID, errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/bookings", member, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/bookings", member, ReserveRequest{ClassID: primitive.NewObjectID().Hex()})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, codeClassNotFound, errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/bookings", member, ReserveRequest{ClassID: class.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(t, http.MethodPost, "/api/bookings", member, ReserveRequest{ClassID: class.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeAlreadyBooked, errorCode(t, w))

	w = s.do(t, http.MethodDelete, "/api/classes/"+class.ID, s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/api/bookings", memberToken(t), ReserveRequest{ClassID: class.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, codeClassNotActive, errorCode(t, w))
}

func TestCancelFlow(t *testing.T) {
	s := newTestServer(t)
	class := s.createClass(t, 5, time.Now().Add(48*time.Hour))
	member := memberToken(t)

	w := s.do(t, http.MethodPost, "/api/bookings", member, ReserveRequest{ClassID: class.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	reservation := decode[ReservationResponse](t, w)
	cancelPath := "/api/bookings/" + reservation.ID + "/cancel"

	w = s.do(t, http.MethodPatch, cancelPath, memberToken(t), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, codeNotOwner, errorCode(t, w))

	w = s.do(t, http.MethodPatch, cancelPath, member, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPatch, cancelPath, member, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeAlreadyCanceled, errorCode(t, w))

	w = s.do(t, http.MethodPatch, "/api/bookings/"+primitive.NewObjectID().Hex()+"/cancel", member, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, codeResNotFound, errorCode(t, w))

	w = s.do(t, http.MethodPatch, "/api/bookings/xyz/cancel", member, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMyBookings(t *testing.T) {
	s := newTestServer(t)
	member := memberToken(t)
	future := s.createClass(t, 5, time.Now().Add(48*time.Hour))
	past := s.createClass(t, 5, time.Now().Add(-48*time.Hour))

	for _, id := range []string{future.ID, past.ID} {
		w := s.do(t, http.MethodPost, "/api/bookings", member, ReserveRequest{ClassID: id})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := s.do(t, http.MethodGet, "/api/bookings/me", member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[MyBookingsResponse](t, w)
	require.Len(t, res.Upcoming, 1)
	require.Len(t, res.Past, 1)
	require.NotNil(t, res.Upcoming[0].FitnessClass)
	assert.Equal(t, future.ID, res.Upcoming[0].FitnessClass.ID)
	assert.Equal(t, past.ID, res.Past[0].ClassID)
}

func TestClassAdmin(t *testing.T) {
	s := newTestServer(t)
	class := s.createClass(t, 3, time.Now().Add(48*time.Hour))
	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodPost, "/api/bookings", memberToken(t), ReserveRequest{ClassID: class.ID})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	update := ClassRequest{
		Title:       "Boxing II",
		Trainer:     "Kim",
		Description: "Sparring",
		Date:        time.Now().Add(72 * time.Hour).Format("2006-01-02"),
		Time:        "20:00",
		Duration:    45,
		Capacity:    1,
	}
	w := s.do(t, http.MethodPut, "/api/classes/"+class.ID, s.admin, update)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeCapacityBelow, errorCode(t, w))

	update.Capacity = 4
	w = s.do(t, http.MethodPut, "/api/classes/"+class.ID, s.admin, update)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[ClassResponse](t, w)
	assert.Equal(t, "Boxing II", updated.Title)
	assert.Equal(t, 2, updated.SpotsLeft)

	w = s.do(t, http.MethodPost, "/api/classes/"+class.ID+"/reconcile", s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[service.ReconcileResult](t, w)
	assert.False(t, result.Drift)
	assert.Equal(t, 2, result.After)

	w = s.do(t, http.MethodGet, "/api/admin/stats", s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.CatalogStats{ActiveClasses: 1, TotalCapacity: 4, BookedSeats: 2}, decode[domain.CatalogStats](t, w))

	w = s.do(t, http.MethodDelete, "/api/classes/"+class.ID, s.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodDelete, "/api/classes/"+class.ID, s.admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeClassNotActive, errorCode(t, w))

	w = s.do(t, http.MethodGet, "/api/classes?filter=upcoming", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]ClassResponse](t, w))
}

func TestCreateClass_Validation(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/classes", s.admin, ClassRequest{
		Title:       "Stretch",
		Trainer:     "Lee",
		Description: "Mobility",
		Date:        "tomorrow",
		Time:        "10:00",
		Duration:    30,
		Capacity:    5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeInvalidClass, errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/classes", s.admin, ClassRequest{
		Title:       "Stretch",
		Trainer:     "Lee",
		Description: "Mobility",
		Date:        "2026-12-01",
		Time:        "10:00",
		Duration:    5,
		Capacity:    5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportRoster_NotConfigured(t *testing.T) {
	s := newTestServer(t)
	class := s.createClass(t, 3, time.Now().Add(48*time.Hour))
	w := s.do(t, http.MethodPost, "/api/classes/"+class.ID+"/roster/export", s.admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, codeExportDisabled, errorCode(t, w))
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fakeBookings struct {
	BookingAPI
	err        error
	existing   bool
	lastKey    string
	lastActor  service.Actor
	lastOdo    int64
	lastReason string
	invoiceReq *service.InvoiceRequest
}

func (f *fakeBookings) IssueInvoice(ctx context.Context, actor service.Actor, id int64, req *service.InvoiceRequest) (*service.InvoiceResult, error) {
	f.invoiceReq = req
	return &service.InvoiceResult{Booking: &models.Booking{ID: id, Status: models.BookingStatusInvoiced}}, f.err
}

func (f *fakeBookings) Get(ctx context.Context, actor service.Actor, id int64) (*models.Booking, error) {
	f.lastActor = actor
	if f.err != nil {
		return nil, f.err
	}
	return &models.Booking{ID: id, CustomerID: actor.UserID, Status: models.BookingStatusPending}, nil
}

func (f *fakeBookings) Create(ctx context.Context, actor service.Actor, req *service.CreateBookingRequest) (*models.Booking, bool, error) {
	f.lastActor = actor
	f.lastKey = req.IdempotencyKey
	if f.err != nil {
		return nil, false, f.err
	}
	return &models.Booking{ID: 9, CustomerID: actor.UserID, VehicleID: req.VehicleID, Status: models.BookingStatusPending}, f.existing, nil
}

func (f *fakeBookings) Collect(ctx context.Context, actor service.Actor, id, odometerStart int64) (*models.Booking, error) {
	f.lastOdo = odometerStart
	return &models.Booking{ID: id, Status: models.BookingStatusCollected}, f.err
}

func (f *fakeBookings) Cancel(ctx context.Context, actor service.Actor, id int64, reason string) (*models.Booking, error) {
	f.lastReason = reason
	return &models.Booking{ID: id, Status: models.BookingStatusCancelled}, f.err
}

type fakeChat struct {
	ChatAPI
	duplicate bool
}

func (f *fakeChat) SendMessage(ctx context.Context, actor service.Actor, conversationID int64, req *service.SendMessageRequest) (*service.SendResult, error) {
	return &service.SendResult{
		Message:   &models.Message{ID: 1, ConversationID: conversationID, Body: req.Body},
		Duplicate: f.duplicate,
	}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

type testServer struct {
	router   *gin.Engine
	auth     *Auth
	bookings *fakeBookings
	chat     *fakeChat
}

func newTestServer(deps map[string]Pinger) *testServer {
	gin.SetMode(gin.TestMode)
	s := &testServer{
		router:   gin.New(),
		auth:     NewAuth(testSecret),
		bookings: &fakeBookings{},
		chat:     &fakeChat{},
	}
	h := NewHandler(Services{
		Bookings:     s.bookings,
		Chat:         s.chat,
		Auth:         s.auth,
		Dependencies: deps,
	})
	h.SetupRoutes(s.router)
	return s
}

func (s *testServer) token(t *testing.T, userID int64, role string) string {
	t.Helper()
	token, err := s.auth.GenerateToken(userID, role, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(nil)

	w := s.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestReadinessCheck(t *testing.T) {
	s := newTestServer(map[string]Pinger{"postgres": fakePinger{}, "redis": fakePinger{}})
	w := s.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	s = newTestServer(map[string]Pinger{"postgres": fakePinger{}, "redis": fakePinger{err: errors.New("connection refused")}})
	w = s.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "connection refused", checks["redis"])
}

func TestRequireAuth(t *testing.T) {
	s := newTestServer(nil)

	w := s.do(http.MethodGet, "/api/v1/bookings/1", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/v1/bookings/1", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := s.auth.GenerateToken(42, models.RoleCustomer, -time.Minute)
	require.NoError(t, err)
	w = s.do(http.MethodGet, "/api/v1/bookings/1", expired, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	foreign, err := NewAuth("other-secret").GenerateToken(42, models.RoleCustomer, time.Hour)
	require.NoError(t, err)
	w = s.do(http.MethodGet, "/api/v1/bookings/1", foreign, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/v1/bookings/1", s.token(t, 42, models.RoleCustomer), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.Actor{UserID: 42, Role: models.RoleCustomer}, s.bookings.lastActor)
}

func TestRequireAdmin(t *testing.T) {
	s := newTestServer(nil)

	w := s.do(http.MethodPost, "/api/v1/bookings/1/collect", s.token(t, 42, models.RoleCustomer), `{"odometer_start":10}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/v1/bookings/1/collect", s.token(t, 1, models.RoleAdmin), `{"odometer_start":10}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(10), s.bookings.lastOdo)
}

func TestParseTokenRequiresExpiry(t *testing.T) {
	auth := NewAuth(testSecret)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
		"role":    models.RoleCustomer,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = auth.ParseToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)
}

func TestParseTokenRejectsUnknownRole(t *testing.T) {
	auth := NewAuth(testSecret)

	token, err := auth.GenerateToken(5, "driver", time.Hour)
	require.NoError(t, err)
	_, err = auth.ParseToken(token)
	assert.Error(t, err)

	token, err = auth.GenerateToken(0, models.RoleCustomer, time.Hour)
	require.NoError(t, err)
	_, err = auth.ParseToken(token)
	assert.Error(t, err)

	token, err = auth.GenerateToken(5, models.RoleAdmin, time.Hour)
	require.NoError(t, err)
	actor, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.True(t, actor.IsAdmin())
}

func TestTokenFromQuery(t *testing.T) {
	s := newTestServer(nil)

	w := s.do(http.MethodGet, "/api/v1/bookings/3?token="+s.token(t, 42, models.RoleCustomer), "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/ws", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{service.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: PENDING -> COLLECTED", service.ErrInvalidTransition), http.StatusBadRequest},
		{service.ErrVehicleUnavailable, http.StatusConflict},
		{service.ErrInvoiceExists, http.StatusConflict},
		{service.ErrConversationClosed, http.StatusConflict},
		{service.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: bad period", service.ErrValidation), http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	s := newTestServer(nil)
	token := s.token(t, 42, models.RoleCustomer)
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s.bookings.err = tt.err
			w := s.do(http.MethodGet, "/api/v1/bookings/1", token, "")
			assert.Equal(t, tt.code, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			if tt.code != http.StatusInternalServerError {
				assert.Equal(t, tt.err.Error(), body["details"])
			}
		})
	}
}

func TestInvalidPathID(t *testing.T) {
	s := newTestServer(nil)

	w := s.do(http.MethodGet, "/api/v1/bookings/abc", s.token(t, 42, models.RoleCustomer), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateBookingStatusCodes(t *testing.T) {
	s := newTestServer(nil)
	token := s.token(t, 42, models.RoleCustomer)
	body := `{"vehicle_id":3,"start_at":"2030-03-02T09:00:00Z","end_at":"2030-03-04T09:00:00Z"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", "req-7")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "req-7", s.bookings.lastKey)

	s.bookings.existing = true
	w = s.do(http.MethodPost, "/api/v1/bookings", token, body)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/v1/bookings", token, `{"vehicle_id":3}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCollectRequiresOdometer(t *testing.T) {
	s := newTestServer(nil)
	token := s.token(t, 1, models.RoleAdmin)

	w := s.do(http.MethodPost, "/api/v1/bookings/1/collect", token, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/bookings/1/collect", token, `{"odometer_start":0}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), s.bookings.lastOdo)
}

func TestCancelBodyIsOptional(t *testing.T) {
	s := newTestServer(nil)
	token := s.token(t, 42, models.RoleCustomer)

	w := s.do(http.MethodPost, "/api/v1/bookings/1/cancel", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, s.bookings.lastReason)

	w = s.do(http.MethodPost, "/api/v1/bookings/1/cancel", token, `{"reason":"flight cancelled"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "flight cancelled", s.bookings.lastReason)
}

// chunked sends body without a Content-Length, as streaming clients do
func (s *testServer) chunked(path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestOptionalBodiesWithoutContentLength(t *testing.T) {
	s := newTestServer(nil)
	customerToken := s.token(t, 42, models.RoleCustomer)
	adminToken := s.token(t, 1, models.RoleAdmin)

	w := s.chunked("/api/v1/bookings/1/cancel", customerToken, `{"reason":"flight cancelled"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "flight cancelled", s.bookings.lastReason)

	w = s.chunked("/api/v1/bookings/1/invoice", adminToken, `{"discount_percent":10,"notes":"loyal customer"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, s.bookings.invoiceReq)
	assert.Equal(t, int64(10), s.bookings.invoiceReq.DiscountPercent)
	assert.Equal(t, "loyal customer", s.bookings.invoiceReq.Notes)

	w = s.chunked("/api/v1/bookings/1/invoice", adminToken, "")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, service.InvoiceRequest{}, *s.bookings.invoiceReq)

	w = s.chunked("/api/v1/bookings/1/cancel", customerToken, `{"reason":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessageStatusCodes(t *testing.T) {
	s := newTestServer(nil)
	token := s.token(t, 42, models.RoleCustomer)

	w := s.do(http.MethodPost, "/api/v1/conversations/4/messages", token, `{"body":"hi","client_message_id":"c1"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	s.chat.duplicate = true
	w = s.do(http.MethodPost, "/api/v1/conversations/4/messages", token, `{"body":"hi","client_message_id":"c1"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var result service.SendResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Duplicate)
	assert.Equal(t, int64(4), result.Message.ConversationID)
}

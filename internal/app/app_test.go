package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"parkshare/internal/config"
	"parkshare/internal/database"
	"parkshare/internal/pkg/clock"
	"parkshare/internal/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const internalToken = "internal-secret"

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
}

type harness struct {
	t      *testing.T
	app    *App
	clock  *clock.Fake
	router *gin.Engine
}

func setup(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte(internalToken), bcrypt.MinCost)
	require.NoError(t, err)
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_URL", database.MemoryDSN(t.Name()))
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("INTERNAL_TOKEN_HASH", string(hash))

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	clk := clock.NewFake(at(8, 0))
	a, err := New(context.Background(), cfg, logger.Nop(), WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return &harness{t: t, app: a, clock: clk, router: a.Router()}
}

func (h *harness) token(userID, role string) string {
	tok, err := h.app.JWT().GenerateToken(userID, role)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path, token string, body any) (int, envelope) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func field(t *testing.T, raw json.RawMessage, path ...string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal(raw, &v))
	for _, p := range path {
		m, ok := v.(map[string]any)
		require.True(t, ok, "expected object at %s", p)
		v = m[p]
	}
	return v
}

func TestEndToEnd_ConflictWaitlistClaim(t *testing.T) {
	h := setup(t)
	alice, bob := h.token("alice", "renter"), h.token("bob", "renter")

	code, _ := h.do(http.MethodPut, "/internal/spaces/space-1", "wrong", gin.H{"host_id": "host-1", "price_per_hour": "10.00"})
	require.Equal(t, http.StatusForbidden, code)
	code, env := h.do(http.MethodPut, "/internal/spaces/space-1", internalToken, gin.H{"host_id": "host-1", "price_per_hour": "10.00"})
	require.Equal(t, http.StatusOK, code, string(env.Data))

	code, env = h.do(http.MethodPost, "/api/v1/bookings", alice, gin.H{"space_id": "space-1", "start_time": at(10, 0), "end_time": at(12, 0)})
	require.Equal(t, http.StatusCreated, code)
	aliceBooking := field(t, env.Data, "booking", "id").(string)

	code, env = h.do(http.MethodPost, "/api/v1/bookings", bob, gin.H{"space_id": "space-1", "start_time": at(11, 0), "end_time": at(13, 0)})
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SPACE_UNAVAILABLE", env.Error.Code)

	code, env = h.do(http.MethodPost, "/api/v1/waitlist", bob, gin.H{
		"space_id": "space-1", "start_time": at(11, 0), "end_time": at(13, 0), "max_price": "12.00",
	})
	require.Equal(t, http.StatusCreated, code)
	entryID := int64(field(t, env.Data, "entry", "id").(float64))
	assert.Equal(t, "waiting", field(t, env.Data, "entry", "status"))

	h.clock.Set(at(9, 0))
	code, env = h.do(http.MethodPost, "/api/v1/bookings/"+aliceBooking+"/cancel", alice, gin.H{"reason": "plans changed"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "10.00", field(t, env.Data, "booking", "refund_amount"), "half refund inside the notice period")

	code, env = h.do(http.MethodGet, "/api/v1/users/me/waitlist", bob, nil)
	require.Equal(t, http.StatusOK, code)
	entries := field(t, env.Data, "entries").([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "offered", entries[0].(map[string]any)["status"])

	h.clock.Set(at(9, 10))
	code, env = h.do(http.MethodPost, "/api/v1/waitlist/"+itoa(entryID)+"/claim", bob, nil)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "20.00", field(t, env.Data, "booking", "total_price"))

	code, env = h.do(http.MethodGet, "/api/v1/spaces/space-1/availability?start=2026-03-02T11:00:00Z&end=2026-03-02T12:00:00Z", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, field(t, env.Data, "available"))
}

func TestEndToEnd_PaymentAndClock(t *testing.T) {
	h := setup(t)
	carol := h.token("carol", "renter")

	code, _ := h.do(http.MethodPut, "/internal/spaces/space-2", internalToken, gin.H{"host_id": "host-2", "price_per_hour": "4.00"})
	require.Equal(t, http.StatusOK, code)

	code, env := h.do(http.MethodPost, "/api/v1/bookings", carol, gin.H{
		"space_id": "space-2", "start_time": at(9, 0), "end_time": at(10, 0), "payment_pending": true,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "pending", field(t, env.Data, "booking", "status"))
	id := field(t, env.Data, "booking", "id").(string)

	code, env = h.do(http.MethodPost, "/internal/payments/"+id+"/confirmed", internalToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "confirmed", field(t, env.Data, "booking", "status"))

	h.clock.Set(at(9, 30))
	code, env = h.do(http.MethodPost, "/internal/reconcile", internalToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), field(t, env.Data, "advance", "activated"))

	code, env = h.do(http.MethodPost, "/api/v1/bookings/"+id+"/extend", carol, gin.H{"hours": 0.5})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "6.00", field(t, env.Data, "booking", "total_price"))

	code, env = h.do(http.MethodPost, "/api/v1/bookings/"+id+"/issues", carol, gin.H{"issue_type": "damaged"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "partial", field(t, env.Data, "issue", "eligibility"))

	ops := h.token("ops-1", "ops")
	code, env = h.do(http.MethodPost, "/api/v1/bookings/"+id+"/issues/resolve", ops, gin.H{"resolution": "refunded_partial"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", field(t, env.Data, "booking", "status"))
	assert.Equal(t, "4.00", field(t, env.Data, "issue", "refund_amount"))

	assert.Empty(t, h.app.Index().Snapshot("space-2"))
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestHealth_ReportsIndexAndOnlineClients(t *testing.T) {
	h := setup(t)

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status string `json:"status"`
		Spaces int    `json:"spaces"`
		Online int    `json:"online"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Zero(t, body.Online)
}

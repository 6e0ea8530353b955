package issue

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parkshare/internal/middleware"
	"parkshare/internal/pkg/jwt"
	"parkshare/internal/pkg/validator"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ReportAndResolve(t *testing.T) {
	gin.SetMode(gin.TestMode)
	require.NoError(t, validator.RegisterGinRules())

	f := setup(t)
	b := f.active(t, at(10, 10))

	jwtService := jwt.New("test-secret", time.Hour)
	alice, err := jwtService.GenerateToken("alice", "renter")
	require.NoError(t, err)
	opsToken, err := jwtService.GenerateToken("ops-1", "ops")
	require.NoError(t, err)

	r := gin.New()
	NewHandler(f.svc).RegisterRoutes(r.Group("/api/v1", middleware.JWTAuth(jwtService)))

	send := func(token, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest(http.MethodPost, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	base := "/api/v1/bookings/" + b.ID + "/issues"

	w := send(alice, base, gin.H{"issue_type": "flooded"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = send(alice, base, gin.H{"issue_type": "blocked", "description": "a van is parked in the bay"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"eligibility":"full"`)

	w = send(alice, base+"/resolve", gin.H{"resolution": "refunded_full"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = send(opsToken, base+"/resolve", gin.H{"resolution": "pending"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = send(opsToken, base+"/resolve", gin.H{"resolution": "refunded_full"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"refund_amount":"40.00"`)
	assert.Contains(t, w.Body.String(), `"status":"cancelled"`)
}

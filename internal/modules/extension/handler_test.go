package extension

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parkshare/internal/middleware"
	"parkshare/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_QuoteThenExtend(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := setup(t)
	b := f.activeAt(t, "space-1", at(9, 30))

	jwtService := jwt.New("test-secret", time.Hour)
	token, err := jwtService.GenerateToken("alice", "renter")
	require.NoError(t, err)

	r := gin.New()
	api := r.Group("/api/v1", middleware.JWTAuth(jwtService))
	NewHandler(f.svc).RegisterRoutes(api)

	send := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := send(http.MethodGet, "/api/v1/bookings/"+b.ID+"/extension-quote?hours=1.5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"cost":"15.00"`)

	w = send(http.MethodPost, "/api/v1/bookings/"+b.ID+"/extend", gin.H{"hours": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = send(http.MethodPost, "/api/v1/bookings/"+b.ID+"/extend", gin.H{"hours": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"total_price":"20.00"`)

	f.book(t, "space-1", "bob", win(11, 12))
	w = send(http.MethodPost, "/api/v1/bookings/"+b.ID+"/extend", gin.H{"hours": 1})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "EXTENSION_CONFLICT")
}

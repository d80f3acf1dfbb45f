package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/marketcore/internal/market/domain"
)

type stubDepth struct {
	lastN int
}

func (s *stubDepth) Depth(_ context.Context, marketID int64, n int) (*domain.Depth, error) {
	s.lastN = n
	if marketID != 1 {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownMarket, marketID)
	}
	return &domain.Depth{
		MarketID: 1,
		Bids:     []domain.PriceLevel{{Price: decimal.NewFromInt(99), Amount: decimal.NewFromInt(2), Count: 1}},
	}, nil
}

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHandler_Depth(t *testing.T) {
	depth := &stubDepth{}
	r := newRouter(NewHandler(depth, nil, nil))

	w := get(r, "/v1/markets/1/depth?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	var body domain.Depth
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.MarketID)
	require.Len(t, body.Bids, 1)
	assert.True(t, body.Bids[0].Price.Equal(decimal.NewFromInt(99)))
	assert.Equal(t, 5, depth.lastN)

	get(r, "/v1/markets/1/depth?limit=100000")
	assert.Equal(t, maxDepth, depth.lastN)

	assert.Equal(t, http.StatusNotFound, get(r, "/v1/markets/2/depth").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/v1/markets/abc/depth").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/v1/markets/1/depth?limit=-1").Code)
}

func TestHandler_HealthAndReadiness(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	r := newRouter(NewHandler(&stubDepth{}, map[string]Check{"database": healthy}, http.NotFoundHandler()))

	assert.Equal(t, http.StatusOK, get(r, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(r, "/readyz").Code)

	failing := func(context.Context) error { return errors.New("connection refused") }
	r = newRouter(NewHandler(&stubDepth{}, map[string]Check{"database": healthy, "redis": failing}, nil))
	w := get(r, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
	assert.Equal(t, http.StatusNotFound, get(r, "/metrics").Code)
}

package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"councild/internal/models"
	"councild/internal/repository"
)

// stubOrderRepo answers only the order-token lookup; the embedded interface
// panics on anything else, which would surface an unexpected repo call.
type stubOrderRepo struct {
	repository.Repository
	order *models.MarketOrder
}

func (s *stubOrderRepo) GetOrderByToken(ctx context.Context, token string) (*models.MarketOrder, error) {
	if s.order != nil && s.order.IdempotencyToken == token {
		return s.order, nil
	}
	return nil, nil
}

func TestOrderByToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &CouncilHandler{Repo: &stubOrderRepo{
		order: &models.MarketOrder{
			CouncilID:        1,
			IdempotencyToken: "tok-abc",
			Symbol:           "BTCUSDT",
			Status:           models.OrderClosed,
		},
	}}
	r := gin.New()
	h.Register(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders/tok-abc", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d want 200, body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "BTCUSDT") {
		t.Fatalf("body=%s want order payload", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404 for unknown token", w.Code)
	}
}

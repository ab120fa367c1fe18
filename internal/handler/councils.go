package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"councild/internal/repository"
)

// CouncilHandler is the read-only API over councils and their cycle history.
// Council creation and archival belong to the external CRUD layer.
type CouncilHandler struct {
	Repo repository.Repository
}

func (h *CouncilHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/councils")
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/runs", h.runs)
	g.GET("/:id/debates", h.debates)
	g.GET("/:id/decisions", h.decisions)
	g.GET("/:id/orders", h.orders)
	g.GET("/:id/snapshots", h.snapshots)
	g.GET("/:id/holdings", h.holdings)
	g.GET("/:id/positions", h.positions)

	r.GET("/api/v1/runs/:uid", h.runByUID)
	r.GET("/api/v1/orders/:token", h.orderByToken)
}

func (h *CouncilHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	var status *string
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		status = &v
	}
	var mode *string
	if v := strings.TrimSpace(c.Query("trading_mode")); v != "" {
		mode = &v
	}
	params := repository.ListCouncilsParams{
		Status:      status,
		TradingMode: mode,
		Limit:       limit,
		Offset:      offset,
	}
	items, err := h.Repo.ListCouncils(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountCouncils(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *CouncilHandler) get(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetCouncil(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "council not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *CouncilHandler) runs(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	var status *string
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		status = &v
	}
	params := repository.ListRunsParams{
		CouncilID: &id,
		Status:    status,
		Limit:     limit,
		Offset:    offset,
	}
	items, err := h.Repo.ListRuns(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountRuns(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *CouncilHandler) runByUID(c *gin.Context) {
	uid := strings.TrimSpace(c.Param("uid"))
	if uid == "" {
		Error(c, http.StatusBadRequest, "invalid run uid", nil)
		return
	}
	run, err := h.Repo.GetRunByUID(c.Request.Context(), uid)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if run == nil {
		Error(c, http.StatusNotFound, "run not found", nil)
		return
	}
	cycles, err := h.Repo.ListRunCycles(c.Request.Context(), run.ID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"run": run, "cycles": cycles}, nil)
}

// orderByToken looks an order up by its client idempotency token, so an
// operator can check what a retried submission actually produced.
func (h *CouncilHandler) orderByToken(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		Error(c, http.StatusBadRequest, "invalid order token", nil)
		return
	}
	item, err := h.Repo.GetOrderByToken(c.Request.Context(), token)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "order not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *CouncilHandler) debates(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListDebateMessagesParams{
		CouncilID: &id,
		Limit:     limit,
		Offset:    offset,
	}
	if v := strings.TrimSpace(c.Query("symbol")); v != "" {
		params.Symbol = &v
	}
	if runID := uint64Query(c, "run_id"); runID > 0 {
		params.RunID = &runID
	}
	items, err := h.Repo.ListDebateMessages(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *CouncilHandler) decisions(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	params := repository.ListDecisionsParams{
		CouncilID: &id,
		Limit:     intQuery(c, "limit", 50),
		Offset:    intQuery(c, "offset", 0),
	}
	if v := strings.TrimSpace(c.Query("symbol")); v != "" {
		params.Symbol = &v
	}
	items, err := h.Repo.ListDecisions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *CouncilHandler) orders(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListOrdersParams{
		CouncilID: &id,
		Limit:     limit,
		Offset:    offset,
	}
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		params.Status = &v
	}
	if v := strings.TrimSpace(c.Query("symbol")); v != "" {
		params.Symbol = &v
	}
	items, err := h.Repo.ListOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *CouncilHandler) snapshots(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	params := repository.ListSnapshotsParams{
		CouncilID: id,
		Limit:     intQuery(c, "limit", 200),
	}
	if v := strings.TrimSpace(c.Query("since")); v != "" {
		if since, err := time.Parse(time.RFC3339, v); err == nil {
			params.Since = &since
		}
	}
	items, err := h.Repo.ListSnapshots(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *CouncilHandler) holdings(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	items, err := h.Repo.ListActiveHoldings(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *CouncilHandler) positions(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	items, err := h.Repo.ListOpenPositions(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func uint64Query(c *gin.Context, key string) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(c.Query(key)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

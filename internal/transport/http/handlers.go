package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"polaris/internal/engine"
	"polaris/internal/live"
	"polaris/internal/market"
	"polaris/internal/store"
	"polaris/internal/strategy"
)

type handlers struct {
	engine  *engine.Engine
	store   store.Store
	session *market.Session
	guard   *live.Guard
	started time.Time
}

func (h *handlers) status(c *gin.Context) {
	sessionStatus := "disabled"
	if h.session != nil {
		sessionStatus = h.session.Status().String()
	}
	counts := map[string]int{}
	for _, st := range h.engine.Strategies() {
		counts[string(st.Mode)]++
	}
	body := gin.H{
		"uptime":     time.Since(h.started).Truncate(time.Second).String(),
		"cycle":      h.engine.Cycle(),
		"session":    sessionStatus,
		"strategies": counts,
	}
	if h.guard != nil {
		_, total := h.guard.Exposure("")
		body["risk"] = gin.H{
			"open_exposure":       total,
			"max_global_exposure": h.guard.Limits().MaxGlobalExposure,
		}
	}
	c.JSON(http.StatusOK, body)
}

func (h *handlers) events(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": h.engine.Hub().Recent()})
}

func (h *handlers) listStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": h.engine.Strategies()})
}

type registerRequest struct {
	Name          string          `json:"name" binding:"required"`
	Type          string          `json:"type" binding:"required"`
	Symbol        string          `json:"symbol" binding:"required"`
	InitialEquity float64         `json:"initial_equity" binding:"required"`
	Params        strategy.Params `json:"params"`
}

func (h *handlers) registerStrategy(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	typ, err := strategy.ParseType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st := &strategy.Strategy{
		Name:   req.Name,
		Type:   typ,
		Symbol: req.Symbol,
		Params: req.Params,
		Account: strategy.AccountState{
			InitialEquity: req.InitialEquity,
		},
	}
	if err := h.engine.Register(c.Request.Context(), st); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *handlers) strategyTrades(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade store not configured"})
		return
	}
	trades, err := h.store.TradesForStrategy(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (h *handlers) startStrategy(c *gin.Context) {
	h.command(c, h.engine.StartStrategy, "start queued")
}

func (h *handlers) stopStrategy(c *gin.Context) {
	h.command(c, h.engine.StopStrategy, "stop queued")
}

func (h *handlers) approveStrategy(c *gin.Context) {
	h.command(c, h.engine.ApprovePromotion, "approval queued")
}

// command queues an engine command; it lands at the next cycle boundary,
// so the response only acknowledges the request.
func (h *handlers) command(c *gin.Context, fn func(string) error, ack string) {
	if err := fn(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": ack})
}

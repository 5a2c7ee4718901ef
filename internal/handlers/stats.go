package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/companions"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// StatsHandler serves the companion dashboard rollup
type StatsHandler struct {
	service *companions.Service
	logger  ectologger.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(service *companions.Service, logger ectologger.Logger) *StatsHandler {
	return &StatsHandler{
		service: service,
		logger:  logger,
	}
}

// Register registers stats routes
func (h *StatsHandler) Register(g *echo.Group) {
	g.GET("", h.Get)
}

// Get returns aggregate rule, suggestion and co-occurrence counts
func (h *StatsHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "StatsHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	stats, err := h.service.Stats(ctx)
	if err != nil {
		return err
	}

	return SuccessResponse(c, stats)
}

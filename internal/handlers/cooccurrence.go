package handlers

import (
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/companions"
	"github.com/Ramsey-B/clover/pkg/cooccurrence"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// CoOccurrenceHandler handles co-occurrence pair API endpoints
type CoOccurrenceHandler struct {
	service  *companions.Service
	analyzer *cooccurrence.Analyzer
	logger   ectologger.Logger
}

// NewCoOccurrenceHandler creates a new co-occurrence handler
func NewCoOccurrenceHandler(service *companions.Service, analyzer *cooccurrence.Analyzer, logger ectologger.Logger) *CoOccurrenceHandler {
	return &CoOccurrenceHandler{
		service:  service,
		analyzer: analyzer,
		logger:   logger,
	}
}

// Register registers co-occurrence routes
func (h *CoOccurrenceHandler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("/refresh", h.Refresh)
}

// List returns the top co-occurrence pairs from the last published snapshot
func (h *CoOccurrenceHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "CoOccurrenceHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	var categoryID *int64
	if raw := c.QueryParam("category_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return BadRequest("category_id must be an integer")
		}
		categoryID = &id
	}

	pairs, err := h.service.TopPairs(ctx, limit, categoryID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, pairs)
}

// Refresh kicks off an asynchronous co-occurrence recompute. Returns 409 when
// a refresh is already in flight.
func (h *CoOccurrenceHandler) Refresh(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "CoOccurrenceHandler.Refresh")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	var req models.RefreshCoOccurrenceRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	if req.WindowStart != nil && req.WindowEnd != nil && !req.WindowEnd.After(*req.WindowStart) {
		return BadRequest("window_end must be after window_start")
	}

	if err := h.analyzer.StartRefresh(ctx, req.WindowStart, req.WindowEnd); err != nil {
		return err
	}

	return AcceptedResponse(c, map[string]string{"status": "started"})
}

package handlers

import (
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/companions"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// SuggestionsHandler handles companion suggestion API endpoints
type SuggestionsHandler struct {
	service *companions.Service
	logger  ectologger.Logger
}

// NewSuggestionsHandler creates a new suggestions handler
func NewSuggestionsHandler(service *companions.Service, logger ectologger.Logger) *SuggestionsHandler {
	return &SuggestionsHandler{
		service: service,
		logger:  logger,
	}
}

// Register registers suggestion routes
func (h *SuggestionsHandler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("/generate", h.Generate)
	g.GET("/:id", h.Get)
	g.POST("/:id/decide", h.Decide)
}

// Generate runs suggestion generation for a batch of trigger items
func (h *SuggestionsHandler) Generate(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SuggestionsHandler.Generate")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	var req models.GenerateSuggestionsRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	touched, err := h.service.Generate(ctx, req.SourceJobID, req.TriggerItems, GetUserID(c))
	if err != nil {
		return err
	}

	return SuccessResponse(c, touched)
}

// List returns suggestions filtered by status and source job
func (h *SuggestionsHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SuggestionsHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	var status *string
	if s := c.QueryParam("status"); s != "" {
		if s != models.SuggestionStatusPending && s != models.SuggestionStatusApproved && s != models.SuggestionStatusDiscarded {
			return BadRequest("status must be one of pending, approved, discarded")
		}
		status = &s
	}
	var sourceJobID *string
	if j := c.QueryParam("source_job_id"); j != "" {
		sourceJobID = &j
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	list, err := h.service.ListSuggestions(ctx, status, sourceJobID, page, pageSize)
	if err != nil {
		return err
	}

	return SuccessResponse(c, list)
}

// Get returns a suggestion by ID
func (h *SuggestionsHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SuggestionsHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id := c.Param("id")
	if id == "" {
		return BadRequest("id is required")
	}

	suggestion, err := h.service.GetSuggestion(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, suggestion)
}

// Decide approves or discards a pending suggestion. Returns 409 when the
// suggestion was already decided.
func (h *SuggestionsHandler) Decide(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "SuggestionsHandler.Decide")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id := c.Param("id")
	if id == "" {
		return BadRequest("id is required")
	}

	var req models.DecideSuggestionRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	suggestion, err := h.service.Decide(ctx, id, req, GetUserID(c))
	if err != nil {
		return err
	}

	return SuccessResponse(c, suggestion)
}

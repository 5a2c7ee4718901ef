package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/companions"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// RulesHandler handles companion rule API endpoints
type RulesHandler struct {
	service *companions.Service
	logger  ectologger.Logger
}

// NewRulesHandler creates a new rules handler
func NewRulesHandler(service *companions.Service, logger ectologger.Logger) *RulesHandler {
	return &RulesHandler{
		service: service,
		logger:  logger,
	}
}

// Register registers rule routes
func (h *RulesHandler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Deactivate)
}

// List returns companion rules, optionally active only
func (h *RulesHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RulesHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	activeOnly := c.QueryParam("active") == "true"
	rules, err := h.service.ListRules(ctx, activeOnly)
	if err != nil {
		return err
	}

	return SuccessResponse(c, rules)
}

// Create creates a new companion rule
func (h *RulesHandler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RulesHandler.Create")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	var req models.CreateCompanionRuleRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	rule, err := h.service.CreateRule(ctx, req, GetUserID(c))
	if err != nil {
		return err
	}

	return CreatedResponse(c, rule)
}

// Get returns a companion rule by ID
func (h *RulesHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RulesHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id := c.Param("id")
	if id == "" {
		return BadRequest("id is required")
	}

	rule, err := h.service.GetRule(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, rule)
}

// Update applies a partial update to a companion rule
func (h *RulesHandler) Update(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RulesHandler.Update")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id := c.Param("id")
	if id == "" {
		return BadRequest("id is required")
	}

	var req models.UpdateCompanionRuleRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	rule, err := h.service.UpdateRule(ctx, id, req)
	if err != nil {
		return err
	}

	return SuccessResponse(c, rule)
}

// Deactivate soft deletes a companion rule
func (h *RulesHandler) Deactivate(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RulesHandler.Deactivate")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id := c.Param("id")
	if id == "" {
		return BadRequest("id is required")
	}

	if err := h.service.DeactivateRule(ctx, id); err != nil {
		return err
	}

	return NoContentResponse(c)
}

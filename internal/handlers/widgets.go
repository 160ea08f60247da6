package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pulseboard/internal/bus"
	"pulseboard/internal/datasource"
	"pulseboard/internal/models"
	"pulseboard/internal/service"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK           = "ok"
	statusRegistered   = "registered"
	statusUnregistered = "unregistered"
	statusExecuted     = "executed"
	statusAccepted     = "accepted"
	statusPaused       = "paused"
	statusResumed      = "resumed"

	errWidgetNotFound   = "widget not found"
	errRegisterWidget   = "failed to register widget"
	errUnregisterWidget = "failed to unregister widget"
	errExecuteWidget    = "failed to execute widget"
	errApplyConfig      = "failed to apply configuration change"
	errInvalidBodyPref  = "invalid body: "
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// widgetErrorStatus maps engine errors onto HTTP codes.
func widgetErrorStatus(err error) int {
	var cfgErr *datasource.ConfigError
	switch {
	case errors.Is(err, service.ErrWidgetNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrWidgetExists):
		return http.StatusConflict
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Respond with a status and include the widget's current data if available.
func (h *Handler) respondWithWidget(c *gin.Context, status, widgetID string) {
	resp := gin.H{"status": status, "widget_id": widgetID}
	if d, ok := h.services.Data(widgetID); ok {
		resp["data"] = d
	}
	c.JSON(http.StatusOK, resp)
}

// RegisterWidgetRequest is the registration payload: the widget plus its
// data source definitions.
type RegisterWidgetRequest struct {
	// Widget identifier, unique per engine
	ID string `json:"id" example:"temp-chart-1"`
	// Component type used for type-scoped binding rules
	ComponentType string `json:"component_type" example:"chart"`
	// Arbitrary widget configuration blob
	Config json.RawMessage `json:"config,omitempty"`
	// Data source definitions (static | http | websocket | script)
	Sources []models.DataSource `json:"sources"`
	// Polling interval in milliseconds; 0 disables polling
	PollIntervalMs int `json:"poll_interval_ms,omitempty" example:"5000"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      List widget data states
// @Tags         widgets
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, widgets"
// @Router       /api/v1/widgets [get]
func (h *Handler) listWidgets(c *gin.Context) {
	widgets := h.services.AllData()
	c.JSON(http.StatusOK, gin.H{
		"count":   len(widgets),
		"widgets": widgets,
	})
}

// @Summary      Get one widget's data state
// @Tags         widgets
// @Produce      json
// @Param        id   path      string  true  "Widget ID"
// @Success      200  {object}  models.WidgetData
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/widgets/{id}/data [get]
func (h *Handler) getWidgetData(c *gin.Context) {
	d, ok := h.services.Data(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errWidgetNotFound})
		return
	}
	c.JSON(http.StatusOK, d)
}

// @Summary      Register a widget
// @Description  Validates the data source definitions, creates polling tasks and kicks one immediate execution per source.
// @Tags         widgets
// @Accept       json
// @Produce      json
// @Param        body  body   RegisterWidgetRequest  true  "Widget payload"
// @Success      201   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/widgets [post]
// @Security     BearerAuth
func (h *Handler) registerWidget(c *gin.Context) {
	var req RegisterWidgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	w := models.Widget{
		ID:             req.ID,
		ComponentType:  req.ComponentType,
		Config:         req.Config,
		Sources:        req.Sources,
		PollIntervalMs: req.PollIntervalMs,
	}
	if err := h.services.Register(c.Request.Context(), w); err != nil {
		code := widgetErrorStatus(err)
		if code == http.StatusInternalServerError {
			h.logAndJSONError(c, code, errRegisterWidget, "widget_register_failed", err, "widget_id", req.ID)
			return
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": statusRegistered, "widget_id": req.ID})
}

// @Summary      Unregister a widget
// @Description  Removes the widget's tasks, sources, pending triggers and stored data.
// @Tags         widgets
// @Produce      json
// @Param        id   path      string  true  "Widget ID"
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/widgets/{id} [delete]
// @Security     BearerAuth
func (h *Handler) unregisterWidget(c *gin.Context) {
	id := c.Param("id")
	if err := h.services.Unregister(c.Request.Context(), id); err != nil {
		code := widgetErrorStatus(err)
		if code == http.StatusNotFound {
			c.JSON(code, gin.H{"error": errWidgetNotFound})
			return
		}
		h.logAndJSONError(c, code, errUnregisterWidget, "widget_unregister_failed", err, "widget_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusUnregistered, "widget_id": id})
}

// @Summary      Execute a widget now
// @Description  Forces an immediate execution of all the widget's data sources and waits for completion. Guard limits still apply.
// @Tags         widgets
// @Produce      json
// @Param        id   path      string  true  "Widget ID"
// @Success      200  {object}  map[string]interface{}  "status, widget_id, data"
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/widgets/{id}/execute [post]
// @Security     BearerAuth
func (h *Handler) executeWidget(c *gin.Context) {
	id := c.Param("id")
	if err := h.services.ExecuteNow(c.Request.Context(), id); err != nil {
		code := widgetErrorStatus(err)
		if code == http.StatusNotFound {
			c.JSON(code, gin.H{"error": errWidgetNotFound})
			return
		}
		h.logAndJSONError(c, code, errExecuteWidget, "widget_execute_failed", err, "widget_id", id)
		return
	}
	h.respondWithWidget(c, statusExecuted, id)
}

// ConfigChangeRequest is the payload for a configuration edit.
type ConfigChangeRequest struct {
	// Section being replaced: "config" (default) or "sources"
	Section string `json:"section,omitempty" example:"config"`
	// Previous payload; filled from current state when omitted
	Old json.RawMessage `json:"old,omitempty"`
	// New payload for the section
	New json.RawMessage `json:"new"`
}

// @Summary      Push a configuration change
// @Description  Publishes the edit to the change bus. The engine swaps the stored configuration and debounces re-execution for matching trigger rules.
// @Tags         widgets
// @Accept       json
// @Produce      json
// @Param        id    path   string               true  "Widget ID"
// @Param        body  body   ConfigChangeRequest  true  "Change payload"
// @Success      200   {object}  map[string]string
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/v1/widgets/{id}/config [post]
// @Security     BearerAuth
func (h *Handler) pushConfigChange(c *gin.Context) {
	var req ConfigChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if len(req.New) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new payload is required"})
		return
	}

	id := c.Param("id")
	change := bus.ConfigChange{
		WidgetID: id,
		Section:  req.Section,
		Old:      req.Old,
		New:      req.New,
	}
	if err := h.services.ApplyConfigChange(c.Request.Context(), change); err != nil {
		code := widgetErrorStatus(err)
		if code == http.StatusNotFound {
			c.JSON(code, gin.H{"error": errWidgetNotFound})
			return
		}
		h.logAndJSONError(c, code, errApplyConfig, "config_change_failed", err, "widget_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusAccepted, "widget_id": id})
}

// @Summary      Pause a widget
// @Description  Stops the widget's polling tasks without discarding them.
// @Tags         widgets
// @Produce      json
// @Param        id   path      string  true  "Widget ID"
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/widgets/{id}/pause [post]
// @Security     BearerAuth
func (h *Handler) pauseWidget(c *gin.Context) {
	id := c.Param("id")
	if err := h.services.Pause(id); err != nil {
		c.JSON(widgetErrorStatus(err), gin.H{"error": errWidgetNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusPaused, "widget_id": id})
}

// @Summary      Resume a widget
// @Tags         widgets
// @Produce      json
// @Param        id   path      string  true  "Widget ID"
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/widgets/{id}/resume [post]
// @Security     BearerAuth
func (h *Handler) resumeWidget(c *gin.Context) {
	id := c.Param("id")
	if err := h.services.Resume(id); err != nil {
		c.JSON(widgetErrorStatus(err), gin.H{"error": errWidgetNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusResumed, "widget_id": id})
}

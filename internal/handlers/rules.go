package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pulseboard/internal/binding"
)

// BindingRuleRequest installs or replaces one binding rule. An empty
// component_type targets the global table.
type BindingRuleRequest struct {
	// Component type scope; empty means global
	ComponentType string `json:"component_type,omitempty" example:"chart"`
	// gjson path into the widget configuration
	PropertyPath string `json:"property_path" example:"options.sensor"`
	// Key in the resolved parameter set
	ParamName string `json:"param_name" example:"sensor_id"`
	// Whether a missing property aborts the resolution
	Required bool `json:"required"`
	// Transform spec: "csv", "unix_ms_to_rfc3339", "map:<json>", "expr:<expression>"
	Transform string `json:"transform,omitempty" example:"expr:value * 10"`
}

// TriggerRuleRequest installs or replaces one trigger rule.
type TriggerRuleRequest struct {
	// gjson path into the widget configuration
	PropertyPath string `json:"property_path" example:"options.sensor"`
	// Whether changes to the property re-execute the widget
	Enabled bool `json:"enabled"`
	// Trailing-edge debounce in milliseconds
	DebounceMs int64 `json:"debounce_ms" example:"300"`
}

// triggerRuleView is the wire form of a trigger rule; the debounce goes
// out in milliseconds instead of nanoseconds.
type triggerRuleView struct {
	PropertyPath string `json:"property_path"`
	Enabled      bool   `json:"enabled"`
	DebounceMs   int64  `json:"debounce_ms"`
}

// @Summary      List binding rules
// @Description  Effective rule table for a component type; type-scoped rules shadow global ones. Empty component_type lists the global table.
// @Tags         rules
// @Produce      json
// @Param        component_type  query   string  false  "Component type scope"
// @Success      200  {object}  map[string]interface{}  "count, rules"
// @Router       /api/v1/rules/bindings [get]
func (h *Handler) listBindingRules(c *gin.Context) {
	rules := h.services.BindingRules(c.Query("component_type"))
	c.JSON(http.StatusOK, gin.H{
		"count": len(rules),
		"rules": rules,
	})
}

// @Summary      Install a binding rule
// @Description  Rules are data: they take effect on the next resolution without a restart.
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        body  body   BindingRuleRequest  true  "Rule payload"
// @Success      200   {object}  map[string]string
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/rules/bindings [put]
// @Security     BearerAuth
func (h *Handler) putBindingRule(c *gin.Context) {
	var req BindingRuleRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}

	r, err := binding.NewRule(req.PropertyPath, req.ParamName, req.Required, req.Transform)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.services.SetBindingRule(req.ComponentType, r)
	c.JSON(http.StatusOK, gin.H{"status": statusOK})
}

// @Summary      Remove a binding rule
// @Tags         rules
// @Produce      json
// @Param        component_type  query   string  false  "Component type scope; empty means global"
// @Param        property_path   query   string  true   "Property path of the rule"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/rules/bindings [delete]
// @Security     BearerAuth
func (h *Handler) deleteBindingRule(c *gin.Context) {
	path := c.Query("property_path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "property_path is required"})
		return
	}
	h.services.RemoveBindingRule(c.Query("component_type"), path)
	c.JSON(http.StatusOK, gin.H{"status": statusOK})
}

// @Summary      List trigger rules
// @Tags         rules
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, rules"
// @Router       /api/v1/rules/triggers [get]
func (h *Handler) listTriggerRules(c *gin.Context) {
	triggers := h.services.TriggerRules()
	views := make([]triggerRuleView, len(triggers))
	for i, t := range triggers {
		views[i] = triggerRuleView{
			PropertyPath: t.PropertyPath,
			Enabled:      t.Enabled,
			DebounceMs:   t.Debounce.Milliseconds(),
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(views),
		"rules": views,
	})
}

// @Summary      Install a trigger rule
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        body  body   TriggerRuleRequest  true  "Rule payload"
// @Success      200   {object}  map[string]string
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/rules/triggers [put]
// @Security     BearerAuth
func (h *Handler) putTriggerRule(c *gin.Context) {
	var req TriggerRuleRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if req.PropertyPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "property_path is required"})
		return
	}
	if req.DebounceMs < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "debounce_ms must not be negative"})
		return
	}

	h.services.SetTriggerRule(binding.TriggerRule{
		PropertyPath: req.PropertyPath,
		Enabled:      req.Enabled,
		Debounce:     time.Duration(req.DebounceMs) * time.Millisecond,
	})
	c.JSON(http.StatusOK, gin.H{"status": statusOK})
}

// @Summary      Remove a trigger rule
// @Tags         rules
// @Produce      json
// @Param        property_path  query   string  true  "Property path of the rule"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/rules/triggers [delete]
// @Security     BearerAuth
func (h *Handler) deleteTriggerRule(c *gin.Context) {
	path := c.Query("property_path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "property_path is required"})
		return
	}
	h.services.RemoveTriggerRule(path)
	c.JSON(http.StatusOK, gin.H{"status": statusOK})
}

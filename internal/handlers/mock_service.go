package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"pulseboard/internal/binding"
	"pulseboard/internal/bus"
	"pulseboard/internal/logger"
	"pulseboard/internal/models"
	"pulseboard/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockWidgets struct {
	registerErr   error
	unregisterErr error
	executeErr    error
	configErr     error
	pauseErr      error
	resumeErr     error

	data         map[string]models.WidgetData
	all          []models.WidgetData
	status       service.EngineStatus
	bindingRules []binding.Rule
	triggerRules []binding.TriggerRule
	updates      chan string

	lastRegistered     models.Widget
	lastChange         bus.ConfigChange
	unregistered       []string
	executed           []string
	paused             []string
	resumed            []string
	schedulerSet       []bool
	lastBindingType    string
	lastBindingRule    binding.Rule
	removedBindingType string
	removedBindingPath string
	lastRulesType      string
	lastTriggerRule    binding.TriggerRule
	removedTriggerPath string
	watchCancels       int
	closeCalls         int
}

func (m *mockWidgets) Register(ctx context.Context, w models.Widget) error {
	m.lastRegistered = w
	return m.registerErr
}
func (m *mockWidgets) Unregister(ctx context.Context, widgetID string) error {
	m.unregistered = append(m.unregistered, widgetID)
	return m.unregisterErr
}
func (m *mockWidgets) Data(widgetID string) (models.WidgetData, bool) {
	d, ok := m.data[widgetID]
	return d, ok
}
func (m *mockWidgets) AllData() []models.WidgetData { return m.all }
func (m *mockWidgets) ExecuteNow(ctx context.Context, widgetID string) error {
	m.executed = append(m.executed, widgetID)
	return m.executeErr
}
func (m *mockWidgets) ApplyConfigChange(ctx context.Context, change bus.ConfigChange) error {
	m.lastChange = change
	return m.configErr
}
func (m *mockWidgets) Pause(widgetID string) error {
	m.paused = append(m.paused, widgetID)
	return m.pauseErr
}
func (m *mockWidgets) Resume(widgetID string) error {
	m.resumed = append(m.resumed, widgetID)
	return m.resumeErr
}
func (m *mockWidgets) SetBindingRule(componentType string, r binding.Rule) {
	m.lastBindingType = componentType
	m.lastBindingRule = r
}
func (m *mockWidgets) RemoveBindingRule(componentType, propertyPath string) {
	m.removedBindingType = componentType
	m.removedBindingPath = propertyPath
}
func (m *mockWidgets) BindingRules(componentType string) []binding.Rule {
	m.lastRulesType = componentType
	return m.bindingRules
}
func (m *mockWidgets) SetTriggerRule(t binding.TriggerRule) { m.lastTriggerRule = t }
func (m *mockWidgets) RemoveTriggerRule(propertyPath string) {
	m.removedTriggerPath = propertyPath
}
func (m *mockWidgets) TriggerRules() []binding.TriggerRule { return m.triggerRules }
func (m *mockWidgets) SetSchedulerEnabled(enabled bool) {
	m.schedulerSet = append(m.schedulerSet, enabled)
}
func (m *mockWidgets) Status() service.EngineStatus { return m.status }
func (m *mockWidgets) Updates() (<-chan string, func()) {
	if m.updates == nil {
		m.updates = make(chan string, 8)
	}
	return m.updates, func() { m.watchCancels++ }
}
func (m *mockWidgets) Close() { m.closeCalls++ }

type mockEventLog struct {
	resp []models.EngineEvent
	err  error

	lastFrom   time.Time
	lastTo     time.Time
	lastType   string
	lastWidget string
	recorded   []models.EngineEvent
}

func (m *mockEventLog) Record(e models.EngineEvent) {
	m.recorded = append(m.recorded, e)
}
func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.EngineEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	m.lastWidget = f.WidgetID
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, logger.Nop())
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// doJSON performs one request against the router, optionally with a JSON
// body and a bearer token, and returns the recorder.
func doJSON(r http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vv := range authHeader(token) {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	r.ServeHTTP(w, req)
	return w
}

package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"pulseboard/internal/service"
)

func TestEngineHandlers_Status(t *testing.T) {
	wm := &mockWidgets{status: service.EngineStatus{
		SchedulerEnabled: true,
		TimerRunning:     true,
		Widgets:          3,
		Pairs:            5,
		ActiveTasks:      4,
		PendingTriggers:  1,
	}}
	s := &service.Service{Widgets: wm}
	r := newTestRouter(s)

	w := doJSON(r, http.MethodGet, "/api/v1/engine/status", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
	}

	var st service.EngineStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if !st.SchedulerEnabled || !st.TimerRunning || st.Widgets != 3 || st.Pairs != 5 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.ActiveTasks != 4 || st.PendingTriggers != 1 {
		t.Fatalf("unexpected counters: %+v", st)
	}
}

func TestEngineHandlers_SetScheduler(t *testing.T) {
	auth := &mockAuth{parseID: 7}
	wm := &mockWidgets{}
	s := &service.Service{Authorization: auth, Widgets: wm}
	r := newTestRouter(s)

	// Disable
	w := doJSON(r, http.MethodPost, "/api/v1/engine/scheduler", `{"enabled":false}`, "valid")
	if w.Code != http.StatusOK {
		t.Fatalf("scheduler status=%d, body=%s", w.Code, w.Body.String())
	}
	// Enable again
	w = doJSON(r, http.MethodPost, "/api/v1/engine/scheduler", `{"enabled":true}`, "valid")
	if w.Code != http.StatusOK {
		t.Fatalf("scheduler status=%d, body=%s", w.Code, w.Body.String())
	}
	if len(wm.schedulerSet) != 2 || wm.schedulerSet[0] != false || wm.schedulerSet[1] != true {
		t.Fatalf("SetSchedulerEnabled calls: %v", wm.schedulerSet)
	}

	// Missing enabled field → 400, no extra call
	w = doJSON(r, http.MethodPost, "/api/v1/engine/scheduler", `{}`, "valid")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without enabled, got %d", w.Code)
	}
	if len(wm.schedulerSet) != 2 {
		t.Fatalf("unexpected SetSchedulerEnabled call: %v", wm.schedulerSet)
	}
}

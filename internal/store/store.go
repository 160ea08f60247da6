// Package store holds the last known result and status for every
// registered widget. The store is the single writer of widget data; the
// rest of the engine reads copies.
package store

import (
	"sync"

	"pulseboard/internal/models"
)

// watcher channels buffer a few widget IDs; a watcher that falls behind
// misses intermediate notifications, never data.
const watcherBuffer = 8

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	widgets  map[string]*models.WidgetData
	watchers map[int]chan string
	nextID   int
}

func New() *Store {
	return &Store{
		widgets:  make(map[string]*models.WidgetData),
		watchers: make(map[int]chan string),
	}
}

// Create adds an empty entry for widgetID. Creating an existing widget is
// a no-op so a re-registration never wipes data already collected.
func (s *Store) Create(widgetID, componentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.widgets[widgetID]; ok {
		return
	}
	s.widgets[widgetID] = &models.WidgetData{
		WidgetID:      widgetID,
		ComponentType: componentType,
		Sources:       make(map[string]models.SourceStatus),
	}
}

// Remove drops the entry for widgetID.
func (s *Store) Remove(widgetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.widgets, widgetID)
}

// Get returns a copy of the widget's data.
func (s *Store) Get(widgetID string) (models.WidgetData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.widgets[widgetID]
	if !ok {
		return models.WidgetData{}, false
	}
	return copyData(entry), true
}

// List returns copies of all widget data entries, in no particular order.
func (s *Store) List() []models.WidgetData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.WidgetData, 0, len(s.widgets))
	for _, entry := range s.widgets {
		out = append(out, copyData(entry))
	}
	return out
}

// Len reports the number of tracked widgets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.widgets)
}

// SetLoading flips the loading flag without touching data.
func (s *Store) SetLoading(widgetID string, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.widgets[widgetID]; ok {
		entry.Loading = loading
	}
}

// ApplyResult records one execution outcome. A success replaces the
// widget's data and clears its error; a failure records the error and
// keeps whatever data was there before. Results for widgets removed while
// the execution was in flight are dropped.
func (s *Store) ApplyResult(res models.ExecResult) {
	s.mu.Lock()
	entry, ok := s.widgets[res.WidgetID]
	if !ok {
		s.mu.Unlock()
		return
	}

	status := entry.Sources[res.SourceID]
	status.Runs++
	status.LastRun = res.Timestamp
	if res.Success {
		status.LastSuccess = res.Timestamp
		status.LastError = ""
	} else {
		status.Failures++
		status.LastError = res.Err
	}
	entry.Sources[res.SourceID] = status

	entry.Loading = false
	if res.Success {
		entry.Data = res.Data
		entry.LastUpdated = res.Timestamp
		entry.Error = ""
	} else {
		entry.Error = res.Err
	}
	s.mu.Unlock()

	s.notify(res.WidgetID)
}

// Watch returns a channel of widget IDs whose data changed, plus a cancel
// function. Notifications are best effort.
func (s *Store) Watch() (<-chan string, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan string, watcherBuffer)
	s.watchers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}
	return ch, cancel
}

func (s *Store) notify(widgetID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.watchers {
		select {
		case ch <- widgetID:
		default:
		}
	}
}

func copyData(entry *models.WidgetData) models.WidgetData {
	out := *entry
	out.Sources = make(map[string]models.SourceStatus, len(entry.Sources))
	for id, status := range entry.Sources {
		out.Sources[id] = status
	}
	return out
}

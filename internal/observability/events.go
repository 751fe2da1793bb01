// Package observability provides logging, tracing, and event timeline capabilities.
// This file implements the event timeline used to replay and inspect one invocation.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Additional context keys for correlation IDs.
const (
	// ExecutionIDKey is the context key for an invocation's execution id.
	ExecutionIDKey ContextKey = "execution_id"

	// ToolCallIDKey is the context key for tool call IDs.
	ToolCallIDKey ContextKey = "tool_call_id"

	// SubagentIDKey is the context key for a spawned sub-agent's id.
	SubagentIDKey ContextKey = "subagent_id"
)

// AddExecutionID adds an execution id to the context.
func AddExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, ExecutionIDKey, executionID)
}

// GetExecutionID retrieves the execution id from the context.
func GetExecutionID(ctx context.Context) string {
	if id, ok := ctx.Value(ExecutionIDKey).(string); ok {
		return id
	}
	return ""
}

// AddToolCallID adds a tool call ID to the context.
func AddToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, ToolCallIDKey, toolCallID)
}

// GetToolCallID retrieves the tool call ID from the context.
func GetToolCallID(ctx context.Context) string {
	if id, ok := ctx.Value(ToolCallIDKey).(string); ok {
		return id
	}
	return ""
}

// AddSubagentID adds a sub-agent id to the context.
func AddSubagentID(ctx context.Context, subagentID string) context.Context {
	return context.WithValue(ctx, SubagentIDKey, subagentID)
}

// GetSubagentID retrieves the sub-agent id from the context.
func GetSubagentID(ctx context.Context) string {
	if id, ok := ctx.Value(SubagentIDKey).(string); ok {
		return id
	}
	return ""
}

// EventType categorizes events for filtering and display.
type EventType string

const (
	EventTypeRunStart      EventType = "run.start"
	EventTypeRunEnd        EventType = "run.end"
	EventTypeRunError      EventType = "run.error"
	EventTypeIteration     EventType = "iteration"
	EventTypeToolStart     EventType = "tool.start"
	EventTypeToolEnd       EventType = "tool.end"
	EventTypeToolError     EventType = "tool.error"
	EventTypeApprovalReq   EventType = "approval.required"
	EventTypeApprovalDec   EventType = "approval.decided"
	EventTypeLLMRequest    EventType = "llm.request"
	EventTypeLLMResponse   EventType = "llm.response"
	EventTypeLLMError      EventType = "llm.error"
	EventTypeCheckpoint    EventType = "checkpoint"
	EventTypeSubagentSpawn EventType = "subagent.spawn"
	EventTypeSubagentEnd   EventType = "subagent.end"
	EventTypeCustom        EventType = "custom"
)

// Event represents a single event in the timeline.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Timestamp   time.Time              `json:"timestamp"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	ToolCallID  string                 `json:"tool_call_id,omitempty"`
	SubagentID  string                 `json:"subagent_id,omitempty"`
	Iteration   int                    `json:"iteration,omitempty"`
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Duration    time.Duration          `json:"duration_ns,omitempty"`
	Error       string                 `json:"error,omitempty"`
	ParentID    string                 `json:"parent_id,omitempty"`
	TraceID     string                 `json:"trace_id,omitempty"`
	SpanID      string                 `json:"span_id,omitempty"`
}

// EventStore stores and retrieves events for debugging and replay.
type EventStore interface {
	// Record stores an event.
	Record(event *Event) error

	// GetByExecutionID returns all events for an invocation, sorted by timestamp.
	GetByExecutionID(executionID string) ([]*Event, error)

	// GetByTimeRange returns events within a time range.
	GetByTimeRange(start, end time.Time) ([]*Event, error)

	// GetByType returns events of a specific type.
	GetByType(eventType EventType, limit int) ([]*Event, error)

	// Get returns a single event by ID.
	Get(id string) (*Event, error)

	// Delete removes events older than the given duration.
	Delete(olderThan time.Duration) (int, error)
}

// MemoryEventStore is an in-memory implementation of EventStore, sized for
// the lifetime of a single process running one or a handful of invocations.
type MemoryEventStore struct {
	mu            sync.RWMutex
	events        map[string]*Event
	byExecutionID map[string][]string // executionID -> eventIDs
	maxSize       int
}

// NewMemoryEventStore creates a new in-memory event store.
func NewMemoryEventStore(maxSize int) *MemoryEventStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryEventStore{
		events:        make(map[string]*Event),
		byExecutionID: make(map[string][]string),
		maxSize:       maxSize,
	}
}

func (s *MemoryEventStore) Record(event *Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.maxSize {
		s.evictOldest()
	}

	s.events[event.ID] = event

	if event.ExecutionID != "" {
		s.byExecutionID[event.ExecutionID] = append(s.byExecutionID[event.ExecutionID], event.ID)
	}

	return nil
}

func (s *MemoryEventStore) GetByExecutionID(executionID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byExecutionID[executionID]
	events := make([]*Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			events = append(events, e)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	return events, nil
}

func (s *MemoryEventStore) GetByTimeRange(start, end time.Time) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*Event
	for _, e := range s.events {
		if (e.Timestamp.Equal(start) || e.Timestamp.After(start)) &&
			(e.Timestamp.Equal(end) || e.Timestamp.Before(end)) {
			events = append(events, e)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	return events, nil
}

func (s *MemoryEventStore) GetByType(eventType EventType, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*Event
	for _, e := range s.events {
		if e.Type == eventType {
			events = append(events, e)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp) // Most recent first
	})

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	return events, nil
}

func (s *MemoryEventStore) Get(id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event not found: %s", id)
	}
	return e, nil
}

func (s *MemoryEventStore) Delete(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0

	for id, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}

	for executionID, ids := range s.byExecutionID {
		var remaining []string
		for _, id := range ids {
			if _, ok := s.events[id]; ok {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == 0 {
			delete(s.byExecutionID, executionID)
		} else {
			s.byExecutionID[executionID] = remaining
		}
	}

	return deleted, nil
}

func (s *MemoryEventStore) evictOldest() {
	toRemove := s.maxSize / 10
	if toRemove < 1 {
		toRemove = 1
	}

	var events []*Event
	for _, e := range s.events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	for i := 0; i < toRemove && i < len(events); i++ {
		delete(s.events, events[i].ID)
	}
}

// EventRecorder provides a convenient API for recording events, extracting
// correlation IDs from context so callers don't thread them through by hand.
type EventRecorder struct {
	store  EventStore
	logger *Logger
}

// NewEventRecorder creates a new event recorder.
func NewEventRecorder(store EventStore, logger *Logger) *EventRecorder {
	return &EventRecorder{
		store:  store,
		logger: logger,
	}
}

// Record records an event, extracting correlation IDs from context.
func (r *EventRecorder) Record(ctx context.Context, eventType EventType, name string, data map[string]interface{}) error {
	event := &Event{
		ID:          generateEventID(),
		Type:        eventType,
		Timestamp:   time.Now(),
		ExecutionID: GetExecutionID(ctx),
		ToolCallID:  GetToolCallID(ctx),
		SubagentID:  GetSubagentID(ctx),
		Name:        name,
		Data:        data,
		TraceID:     GetTraceID(ctx),
		SpanID:      GetSpanID(ctx),
	}

	if r.logger != nil {
		r.logger.Debug(ctx, "event recorded",
			"event_type", string(eventType),
			"event_name", name,
			"event_id", event.ID,
		)
	}

	return r.store.Record(event)
}

// RecordError records an error event.
func (r *EventRecorder) RecordError(ctx context.Context, eventType EventType, name string, err error, data map[string]interface{}) error {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["error"] = err.Error()

	event := &Event{
		ID:          generateEventID(),
		Type:        eventType,
		Timestamp:   time.Now(),
		ExecutionID: GetExecutionID(ctx),
		ToolCallID:  GetToolCallID(ctx),
		SubagentID:  GetSubagentID(ctx),
		Name:        name,
		Data:        data,
		Error:       err.Error(),
		TraceID:     GetTraceID(ctx),
		SpanID:      GetSpanID(ctx),
	}

	if r.logger != nil {
		r.logger.Error(ctx, "error event recorded",
			"event_type", string(eventType),
			"event_name", name,
			"event_id", event.ID,
			"error", err,
		)
	}

	return r.store.Record(event)
}

// RecordToolStart records a tool execution start event (§4.2).
func (r *EventRecorder) RecordToolStart(ctx context.Context, toolName string, input interface{}) error {
	data := map[string]interface{}{
		"tool_name": toolName,
	}
	if input != nil {
		if b, err := json.Marshal(input); err == nil {
			data["input"] = string(b)
		}
	}
	return r.Record(ctx, EventTypeToolStart, toolName, data)
}

// RecordToolEnd records a tool execution end event (§4.2).
func (r *EventRecorder) RecordToolEnd(ctx context.Context, toolName string, duration time.Duration, output interface{}, err error) error {
	data := map[string]interface{}{
		"tool_name":   toolName,
		"duration_ms": duration.Milliseconds(),
	}
	if output != nil {
		if b, err := json.Marshal(output); err == nil {
			data["output"] = string(b)
		}
	}

	if err != nil {
		data["error"] = err.Error()
		return r.RecordError(ctx, EventTypeToolError, toolName, err, data)
	}

	return r.Record(ctx, EventTypeToolEnd, toolName, data)
}

// RecordIteration records one executor loop iteration outcome (§4.1).
func (r *EventRecorder) RecordIteration(ctx context.Context, iteration int, outcome string) error {
	event := &Event{
		ID:          generateEventID(),
		Type:        EventTypeIteration,
		Timestamp:   time.Now(),
		ExecutionID: GetExecutionID(ctx),
		Iteration:   iteration,
		Name:        outcome,
		TraceID:     GetTraceID(ctx),
		SpanID:      GetSpanID(ctx),
	}
	return r.store.Record(event)
}

// RecordRunStart records an invocation start event.
func (r *EventRecorder) RecordRunStart(ctx context.Context, executionID string, data map[string]interface{}) error {
	ctx = AddExecutionID(ctx, executionID)
	return r.Record(ctx, EventTypeRunStart, "run_start", data)
}

// RecordRunEnd records an invocation end event.
func (r *EventRecorder) RecordRunEnd(ctx context.Context, duration time.Duration, err error) error {
	data := map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		return r.RecordError(ctx, EventTypeRunError, "run_error", err, data)
	}
	return r.Record(ctx, EventTypeRunEnd, "run_end", data)
}

// RecordCheckpoint records a checkpoint save/resume/sweep event (§4.5).
func (r *EventRecorder) RecordCheckpoint(ctx context.Context, operation, status string) error {
	return r.Record(ctx, EventTypeCheckpoint, operation, map[string]interface{}{"status": status})
}

// RecordSubagentSpawn records a sub-agent spawn event (§4.6).
func (r *EventRecorder) RecordSubagentSpawn(ctx context.Context, subagentID, agentDefID string) error {
	ctx = AddSubagentID(ctx, subagentID)
	return r.Record(ctx, EventTypeSubagentSpawn, agentDefID, nil)
}

// RecordSubagentEnd records a sub-agent completion event (§4.6).
func (r *EventRecorder) RecordSubagentEnd(ctx context.Context, subagentID, agentDefID, status string) error {
	ctx = AddSubagentID(ctx, subagentID)
	return r.Record(ctx, EventTypeSubagentEnd, agentDefID, map[string]interface{}{"status": status})
}

// Timeline represents a sequence of events for display.
type Timeline struct {
	ExecutionID string           `json:"execution_id"`
	StartTime   time.Time        `json:"start_time"`
	EndTime     time.Time        `json:"end_time"`
	Duration    time.Duration    `json:"duration"`
	Events      []*Event         `json:"events"`
	Summary     *TimelineSummary `json:"summary"`
}

// TimelineSummary provides aggregate statistics for a timeline.
type TimelineSummary struct {
	TotalEvents   int           `json:"total_events"`
	ErrorCount    int           `json:"error_count"`
	ToolCalls     int           `json:"tool_calls"`
	LLMCalls      int           `json:"llm_calls"`
	Iterations    int           `json:"iterations"`
	TotalDuration time.Duration `json:"total_duration"`
}

// BuildTimeline creates a timeline from events.
func BuildTimeline(events []*Event) *Timeline {
	if len(events) == 0 {
		return &Timeline{Summary: &TimelineSummary{}}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	timeline := &Timeline{
		Events:    events,
		StartTime: events[0].Timestamp,
		EndTime:   events[len(events)-1].Timestamp,
		Duration:  events[len(events)-1].Timestamp.Sub(events[0].Timestamp),
		Summary:   &TimelineSummary{TotalEvents: len(events)},
	}

	for _, e := range events {
		if e.ExecutionID != "" && timeline.ExecutionID == "" {
			timeline.ExecutionID = e.ExecutionID
			break
		}
	}

	for _, e := range events {
		if e.Error != "" {
			timeline.Summary.ErrorCount++
		}
		switch e.Type {
		case EventTypeToolStart:
			timeline.Summary.ToolCalls++
		case EventTypeLLMRequest:
			timeline.Summary.LLMCalls++
		case EventTypeIteration:
			timeline.Summary.Iterations++
		}
		timeline.Summary.TotalDuration += e.Duration
	}

	return timeline
}

// FormatTimeline formats a timeline for display.
func FormatTimeline(timeline *Timeline) string {
	if timeline == nil || len(timeline.Events) == 0 {
		return "No events found"
	}

	var result string
	result += fmt.Sprintf("=== Timeline for Execution: %s ===\n", timeline.ExecutionID)
	result += fmt.Sprintf("Duration: %v\n", timeline.Duration)
	result += fmt.Sprintf("Events: %d (Errors: %d)\n", timeline.Summary.TotalEvents, timeline.Summary.ErrorCount)
	result += fmt.Sprintf("Iterations: %d, Tool calls: %d, LLM calls: %d\n\n",
		timeline.Summary.Iterations, timeline.Summary.ToolCalls, timeline.Summary.LLMCalls)

	for i, e := range timeline.Events {
		prefix := "├─"
		if i == len(timeline.Events)-1 {
			prefix = "└─"
		}

		timestamp := e.Timestamp.Format("15:04:05.000")
		errorMark := ""
		if e.Error != "" {
			errorMark = " ❌"
		}

		result += fmt.Sprintf("%s [%s] %s: %s%s\n", prefix, timestamp, e.Type, e.Name, errorMark)

		if e.Duration > 0 {
			result += fmt.Sprintf("   Duration: %v\n", e.Duration)
		}
		if e.ToolCallID != "" {
			result += fmt.Sprintf("   Tool call: %s\n", e.ToolCallID)
		}
		if e.Error != "" {
			result += fmt.Sprintf("   Error: %s\n", e.Error)
		}
	}

	return result
}

var eventIDCounter int64
var eventIDMu sync.Mutex

func generateEventID() string {
	eventIDMu.Lock()
	defer eventIDMu.Unlock()
	eventIDCounter++
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), eventIDCounter)
}

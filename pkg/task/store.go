// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AgentUp Authors

// Package task owns the task lifecycle. All task mutations go through the
// Store, which enforces the state machine (submitted → working → terminal),
// append-only history, and ordered event delivery per task.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentup/agentup/pkg/a2a"
)

// Store manages tasks and their event streams.
type Store interface {
	// Create creates a new task in the submitted state with the given
	// message as the first history entry.
	Create(ctx context.Context, contextID string, msg a2a.Message) (*a2a.Task, error)

	// Get returns a consistent snapshot of a task.
	Get(ctx context.Context, taskID string) (*a2a.Task, error)

	// SetStatus transitions a task and emits exactly one status event.
	// Terminal tasks reject further transitions.
	SetStatus(ctx context.Context, taskID string, state a2a.TaskState, msg *a2a.Message) error

	// AddArtifact records an artifact chunk and emits one artifact-update
	// event. With append=true the chunk's parts extend the stored artifact
	// of the same name instead of adding a new artifact.
	AddArtifact(ctx context.Context, taskID string, artifact a2a.Artifact, append, lastChunk bool) error

	// AppendHistory appends a message to the task history.
	AppendHistory(ctx context.Context, taskID string, msg a2a.Message) error

	// Subscribe returns an ordered event stream for a task. The stream is
	// closed after the terminal status event is delivered. The returned
	// cancel function detaches the subscriber early.
	Subscribe(taskID string) (<-chan a2a.Event, func(), error)

	// Context returns the cancellation context bound to a task. Cancelling
	// a task cancels this context.
	Context(taskID string) (context.Context, error)

	// CancelContext signals cancellation to in-flight work for a task.
	CancelContext(taskID string)

	// List returns snapshots of all tasks for a context.
	List(ctx context.Context, contextID string) ([]*a2a.Task, error)
}

const eventQueueSize = 64

// entry holds one task plus its event queue. The mutex serializes all
// mutations so queue order matches mutation order.
type entry struct {
	mu    sync.Mutex
	task  *a2a.Task
	queue chan a2a.Event
	done  bool

	subsMu  sync.Mutex
	subs    map[int]chan a2a.Event
	nextSub int

	ctx    context.Context
	cancel context.CancelFunc
}

// InMemoryStore is the default Store implementation.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewInMemoryStore creates a new in-memory task store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]*entry),
	}
}

func (s *InMemoryStore) Create(_ context.Context, contextID string, msg a2a.Message) (*a2a.Task, error) {
	now := time.Now()
	if contextID == "" {
		contextID = uuid.New().String()
	}
	t := &a2a.Task{
		ID:        uuid.New().String(),
		ContextID: contextID,
		Kind:      "task",
		Status: a2a.TaskStatus{
			State:     a2a.TaskStateSubmitted,
			Timestamp: now,
		},
		History:  []a2a.Message{msg},
		Metadata: make(map[string]any),
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		task:   t,
		queue:  make(chan a2a.Event, eventQueueSize),
		subs:   make(map[int]chan a2a.Event),
		ctx:    ctx,
		cancel: cancel,
	}

	s.mu.Lock()
	s.entries[t.ID] = e
	s.mu.Unlock()

	go e.drain()

	return snapshot(t), nil
}

func (s *InMemoryStore) lookup(taskID string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return e, nil
}

func (s *InMemoryStore) Get(_ context.Context, taskID string) (*a2a.Task, error) {
	e, err := s.lookup(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.task), nil
}

func (s *InMemoryStore) SetStatus(_ context.Context, taskID string, state a2a.TaskState, msg *a2a.Message) error {
	e, err := s.lookup(taskID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.Status.State.IsTerminal() {
		return ErrTaskTerminal
	}

	e.task.Status = a2a.TaskStatus{
		State:     state,
		Message:   msg,
		Timestamp: time.Now(),
	}

	final := state.IsTerminal()
	e.publish(a2a.TaskStatusUpdateEvent{
		Kind:      "status-update",
		TaskID:    e.task.ID,
		ContextID: e.task.ContextID,
		Status:    e.task.Status,
		Final:     final,
	})
	if final {
		e.done = true
		close(e.queue)
		e.cancel()
	}
	return nil
}

func (s *InMemoryStore) AddArtifact(_ context.Context, taskID string, artifact a2a.Artifact, appendChunk, lastChunk bool) error {
	e, err := s.lookup(taskID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.Status.State.IsTerminal() {
		return ErrTaskTerminal
	}

	if appendChunk {
		merged := false
		for i := range e.task.Artifacts {
			if e.task.Artifacts[i].Name == artifact.Name {
				e.task.Artifacts[i].Parts = append(e.task.Artifacts[i].Parts, artifact.Parts...)
				merged = true
				break
			}
		}
		if !merged {
			e.task.Artifacts = append(e.task.Artifacts, artifact)
		}
	} else {
		e.task.Artifacts = append(e.task.Artifacts, artifact)
	}

	e.publish(a2a.TaskArtifactUpdateEvent{
		Kind:      "artifact-update",
		TaskID:    e.task.ID,
		ContextID: e.task.ContextID,
		Artifact:  artifact,
		Append:    appendChunk,
		LastChunk: lastChunk,
	})
	return nil
}

func (s *InMemoryStore) AppendHistory(_ context.Context, taskID string, msg a2a.Message) error {
	e, err := s.lookup(taskID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.Status.State.IsTerminal() {
		return ErrTaskTerminal
	}

	e.task.History = append(e.task.History, msg)
	return nil
}

func (s *InMemoryStore) Subscribe(taskID string) (<-chan a2a.Event, func(), error) {
	e, err := s.lookup(taskID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan a2a.Event, eventQueueSize)

	e.mu.Lock()
	if e.done {
		// Replay the terminal status so late subscribers still observe
		// exactly one final event.
		ch <- a2a.TaskStatusUpdateEvent{
			Kind:      "status-update",
			TaskID:    e.task.ID,
			ContextID: e.task.ContextID,
			Status:    e.task.Status,
			Final:     true,
		}
		close(ch)
		e.mu.Unlock()
		return ch, func() {}, nil
	}
	e.mu.Unlock()

	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subsMu.Unlock()

	cancel := func() {
		e.subsMu.Lock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
		e.subsMu.Unlock()
	}
	return ch, cancel, nil
}

func (s *InMemoryStore) Context(taskID string) (context.Context, error) {
	e, err := s.lookup(taskID)
	if err != nil {
		return nil, err
	}
	return e.ctx, nil
}

func (s *InMemoryStore) CancelContext(taskID string) {
	if e, err := s.lookup(taskID); err == nil {
		e.cancel()
	}
}

func (s *InMemoryStore) List(_ context.Context, contextID string) ([]*a2a.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*a2a.Task
	for _, e := range s.entries {
		e.mu.Lock()
		if e.task.ContextID == contextID {
			result = append(result, snapshot(e.task))
		}
		e.mu.Unlock()
	}
	return result, nil
}

// publish enqueues an event. Called with e.mu held so enqueue order matches
// mutation order. A full queue blocks the mutator until the drainer catches
// up; the drainer never takes e.mu, so it always makes progress and no event
// is lost.
func (e *entry) publish(ev a2a.Event) {
	e.queue <- ev
}

// drain is the single per-task fan-out worker. It preserves emit order for
// every subscriber and closes them after the final event.
func (e *entry) drain() {
	for ev := range e.queue {
		final := false
		if st, ok := ev.(a2a.TaskStatusUpdateEvent); ok && st.Final {
			final = true
		}

		e.subsMu.Lock()
		for id, sub := range e.subs {
			select {
			case sub <- ev:
			default:
				// Slow subscriber; drop it rather than stall the task.
				delete(e.subs, id)
				close(sub)
			}
		}
		if final {
			for id, sub := range e.subs {
				delete(e.subs, id)
				close(sub)
			}
		}
		e.subsMu.Unlock()

		if final {
			return
		}
	}
}

// snapshot returns a deep-enough copy for safe concurrent reads.
func snapshot(t *a2a.Task) *a2a.Task {
	cp := *t
	cp.History = append([]a2a.Message(nil), t.History...)
	cp.Artifacts = append([]a2a.Artifact(nil), t.Artifacts...)
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

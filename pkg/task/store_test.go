package task

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/pkg/a2a"
)

func newTask(t *testing.T, s Store) *a2a.Task {
	t.Helper()
	created, err := s.Create(context.Background(), "ctx-1", a2a.NewTextMessage(a2a.RoleUser, "hello"))
	require.NoError(t, err)
	return created
}

func collect(t *testing.T, events <-chan a2a.Event) []a2a.Event {
	t.Helper()
	var got []a2a.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("timed out waiting for event stream to close")
		}
	}
}

func TestCreate(t *testing.T) {
	s := NewInMemoryStore()
	created := newTask(t, s)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "ctx-1", created.ContextID)
	assert.Equal(t, a2a.TaskStateSubmitted, created.Status.State)
	require.Len(t, created.History, 1)
	assert.Equal(t, "hello", created.History[0].TextContent())
}

func TestGetUnknownTask(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestEventOrderAndSingleTerminal(t *testing.T) {
	s := NewInMemoryStore()
	created := newTask(t, s)
	ctx := context.Background()

	events, cancel, err := s.Subscribe(created.ID)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.SetStatus(ctx, created.ID, a2a.TaskStateWorking, nil))
	require.NoError(t, s.AddArtifact(ctx, created.ID, a2a.NewArtifact("agent-result", a2a.NewTextPart("hi")), false, true))
	require.NoError(t, s.SetStatus(ctx, created.ID, a2a.TaskStateCompleted, nil))

	got := collect(t, events)
	require.Len(t, got, 3)

	working := got[0].(a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateWorking, working.Status.State)
	assert.False(t, working.Final)

	artifact := got[1].(a2a.TaskArtifactUpdateEvent)
	assert.Equal(t, "agent-result", artifact.Artifact.Name)
	assert.True(t, artifact.LastChunk)

	final := got[2].(a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateCompleted, final.Status.State)
	assert.True(t, final.Final)
}

func TestBurstDeliversEveryEventInOrder(t *testing.T) {
	s := NewInMemoryStore()
	created := newTask(t, s)
	ctx := context.Background()

	events, cancel, err := s.Subscribe(created.ID)
	require.NoError(t, err)
	defer cancel()

	var got []a2a.Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			got = append(got, ev)
		}
	}()

	// Publish well past the internal queue size in one burst.
	const chunks = 100
	for i := 0; i < chunks; i++ {
		artifact := a2a.NewArtifact("burst", a2a.NewTextPart(fmt.Sprintf("chunk-%d", i)))
		require.NoError(t, s.AddArtifact(ctx, created.ID, artifact, true, false))
	}
	require.NoError(t, s.SetStatus(ctx, created.ID, a2a.TaskStateCompleted, nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event stream to close")
	}

	require.Len(t, got, chunks+1)
	for i := 0; i < chunks; i++ {
		ev := got[i].(a2a.TaskArtifactUpdateEvent)
		require.Len(t, ev.Artifact.Parts, 1)
		assert.Equal(t, fmt.Sprintf("chunk-%d", i), ev.Artifact.Parts[0].Text)
	}
	final := got[chunks].(a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateCompleted, final.Status.State)
	assert.True(t, final.Final)
}

func TestNoMutationAfterTerminal(t *testing.T) {
	s := NewInMemoryStore()
	created := newTask(t, s)
	ctx := context.Background()

	require.NoError(t, s.SetStatus(ctx, created.ID, a2a.TaskStateCompleted, nil))

	assert.ErrorIs(t, s.SetStatus(ctx, created.ID, a2a.TaskStateFailed, nil), ErrTaskTerminal)
	assert.ErrorIs(t, s.AddArtifact(ctx, created.ID, a2a.NewArtifact("late"), false, false), ErrTaskTerminal)
	assert.ErrorIs(t, s.AppendHistory(ctx, created.ID, a2a.NewTextMessage(a2a.RoleUser, "late")), ErrTaskTerminal)

	after, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, after.Status.State)
	assert.Empty(t, after.Artifacts)
}

func TestLateSubscriberReplaysTerminal(t *testing.T) {
	s := NewInMemoryStore()
	created := newTask(t, s)
	ctx := context.Background()

	require.NoError(t, s.SetStatus(ctx, created.ID, a2a.TaskStateCanceled, nil))

	events, cancel, err := s.Subscribe(created.ID)
	require.NoError(t, err)
	defer cancel()

	got := collect(t, events)
	require.Len(t, got, 1)
	final := got[0].(a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateCanceled, final.Status.State)
	assert.True(t, final.Final)
}

func TestAppendArtifactMergesByName(t *testing.T) {
	s := NewInMemoryStore()
	created := newTask(t, s)
	ctx := context.Background()

	first := a2a.NewArtifact("agent-stream", a2a.NewTextPart("a"))
	require.NoError(t, s.AddArtifact(ctx, created.ID, first, true, false))
	second := a2a.NewArtifact("agent-stream", a2a.NewTextPart("b"))
	require.NoError(t, s.AddArtifact(ctx, created.ID, second, true, false))

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Artifacts, 1)
	require.Len(t, got.Artifacts[0].Parts, 2)
	assert.Equal(t, "a", got.Artifacts[0].Parts[0].Text)
	assert.Equal(t, "b", got.Artifacts[0].Parts[1].Text)
}

func TestCancelContext(t *testing.T) {
	s := NewInMemoryStore()
	created := newTask(t, s)

	taskCtx, err := s.Context(created.ID)
	require.NoError(t, err)
	assert.NoError(t, taskCtx.Err())

	s.CancelContext(created.ID)

	select {
	case <-taskCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("task context not canceled")
	}
}

func TestTerminalStatusCancelsContext(t *testing.T) {
	s := NewInMemoryStore()
	created := newTask(t, s)

	taskCtx, err := s.Context(created.ID)
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(context.Background(), created.ID, a2a.TaskStateCompleted, nil))

	select {
	case <-taskCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("task context not canceled on terminal status")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := NewInMemoryStore()
	created := newTask(t, s)
	ctx := context.Background()

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	got.History = append(got.History, a2a.NewTextMessage(a2a.RoleUser, "mutated"))
	got.Status.State = a2a.TaskStateFailed

	fresh, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, fresh.History, 1)
	assert.Equal(t, a2a.TaskStateSubmitted, fresh.Status.State)
}

func TestList(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, "ctx-a", a2a.NewTextMessage(a2a.RoleUser, "1"))
	require.NoError(t, err)
	_, err = s.Create(ctx, "ctx-a", a2a.NewTextMessage(a2a.RoleUser, "2"))
	require.NoError(t, err)
	_, err = s.Create(ctx, "ctx-b", a2a.NewTextMessage(a2a.RoleUser, "3"))
	require.NoError(t, err)

	got, err := s.List(ctx, "ctx-a")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

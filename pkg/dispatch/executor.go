package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentup/agentup/pkg/a2a"
	"github.com/agentup/agentup/pkg/auth"
	"github.com/agentup/agentup/pkg/capabilities"
	"github.com/agentup/agentup/pkg/logger"
	"github.com/agentup/agentup/pkg/metrics"
	"github.com/agentup/agentup/pkg/push"
	"github.com/agentup/agentup/pkg/task"
)

// UnsupportedMarker in an error message makes the task reject instead of
// fail.
const UnsupportedMarker = "unsupported operation"

// IsUnsupported reports whether an error marks an unsupported operation.
func IsUnsupported(err error) bool {
	return err != nil && strings.Contains(err.Error(), UnsupportedMarker)
}

// Executor drives a submitted task from working to a terminal state.
type Executor struct {
	store           task.Store
	registry        *capabilities.Registry
	router          *Router
	dispatcher      *Dispatcher
	notifier        *push.Notifier
	agentName       string
	fallbackEnabled bool
}

func NewExecutor(store task.Store, registry *capabilities.Registry, router *Router, dispatcher *Dispatcher, notifier *push.Notifier, agentName string, fallbackEnabled bool) *Executor {
	return &Executor{
		store:           store,
		registry:        registry,
		router:          router,
		dispatcher:      dispatcher,
		notifier:        notifier,
		agentName:       agentName,
		fallbackEnabled: fallbackEnabled,
	}
}

// Execute processes the latest user message of a task. The task must exist
// in the store with status submitted.
func (e *Executor) Execute(ctx context.Context, t *a2a.Task, message a2a.Message) {
	log := logger.WithComponent("executor")
	userInput := message.TextContent()

	e.forwardPush(t.ID)

	working := a2a.NewTextMessage(a2a.RoleAssistant, "Processing your request...")
	if err := e.store.SetStatus(ctx, t.ID, a2a.TaskStateWorking, &working); err != nil {
		log.Error("failed to mark task working", "task_id", t.ID, "error", err)
		return
	}

	// Handler work runs under the task's own context so tasks/cancel can
	// interrupt it. The caller's auth context rides along so scope checks
	// still see the request's credentials.
	taskCtx, err := e.store.Context(t.ID)
	if err != nil {
		taskCtx = ctx
	} else if ac := auth.FromContext(ctx); ac != nil {
		taskCtx = auth.ContextWithAuth(taskCtx, ac)
	}

	if requiresInput(userInput) {
		pause := a2a.NewTextMessage(a2a.RoleAssistant,
			"I need more information to proceed. Please provide additional details.")
		if err := e.store.SetStatus(ctx, t.ID, a2a.TaskStateInputRequired, &pause); err != nil {
			log.Error("failed to mark task input-required", "task_id", t.ID, "error", err)
		}
		return
	}

	capabilityID, mode := e.router.SelectCapability(userInput)
	if mode == ModeAI && e.dispatcher == nil {
		if !e.fallbackEnabled {
			e.fail(ctx, t.ID, "no AI provider is configured")
			return
		}
		log.Debug("no dispatcher available, downgrading to direct routing",
			"task_id", t.ID, "capability", capabilityID)
		mode = ModeDirect
	}

	log.Info("task routed", "task_id", t.ID, "context_id", t.ContextID,
		"capability", capabilityID, "mode", string(mode))

	if mode == ModeAI {
		content, err := e.dispatcher.DispatchTask(taskCtx, t, userInput)
		e.finish(ctx, t.ID, content, nil, err)
		return
	}

	handler, err := e.registry.Handler(capabilityID)
	if err != nil {
		e.fail(ctx, t.ID, err.Error())
		return
	}

	result, err := handler(taskCtx, &capabilities.CapabilityContext{
		Task:      t,
		Message:   &message,
		UserInput: userInput,
	})
	if err != nil {
		e.finish(ctx, t.ID, "", nil, err)
		return
	}

	if !result.Success && result.Error != "" {
		e.finish(ctx, t.ID, "", nil, errors.New(result.Error))
		return
	}

	if result.Stream != nil {
		e.stream(ctx, taskCtx, t.ID, result.Stream)
		return
	}

	var shaped any = result.Content
	if len(result.Data) > 0 {
		data := result.Data
		if result.Content != "" {
			data["summary"] = result.Content
		}
		shaped = data
	}
	e.finish(ctx, t.ID, "", shaped, nil)
}

// requiresInput reports whether the message carries nothing to act on. The
// task pauses in input_required until the client sends a follow-up message.
func requiresInput(userInput string) bool {
	return strings.TrimSpace(userInput) == ""
}

// finish emits the result artifact and terminal status. Either content or
// result may carry the payload.
func (e *Executor) finish(ctx context.Context, taskID, content string, result any, err error) {
	log := logger.WithComponent("executor")

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// tasks/cancel already transitioned the task.
			return
		}
		if IsUnsupported(err) {
			msg := a2a.NewTextMessage(a2a.RoleAssistant, err.Error())
			if serr := e.store.SetStatus(ctx, taskID, a2a.TaskStateRejected, &msg); serr != nil {
				log.Debug("terminal transition skipped", "task_id", taskID, "error", serr)
			}
			metrics.ObserveTask(string(a2a.TaskStateRejected))
			return
		}

		log.Error("task failed", "task_id", taskID, "error", err)
		e.fail(ctx, taskID, err.Error())
		return
	}

	if result == nil {
		result = content
	}
	if aerr := e.store.AddArtifact(ctx, taskID, ResultArtifact(e.agentName, result), false, true); aerr != nil {
		log.Error("failed to add result artifact", "task_id", taskID, "error", aerr)
	}

	done := a2a.NewTextMessage(a2a.RoleAssistant, "Request completed")
	if serr := e.store.SetStatus(ctx, taskID, a2a.TaskStateCompleted, &done); serr != nil {
		log.Debug("terminal transition skipped", "task_id", taskID, "error", serr)
	}
	metrics.ObserveTask(string(a2a.TaskStateCompleted))
}

// stream drains a lazy chunk sequence into append artifacts, then closes the
// artifact and completes the task.
func (e *Executor) stream(ctx, taskCtx context.Context, taskID string, chunks <-chan any) {
	log := logger.WithComponent("executor")

	n := 0
	for {
		select {
		case <-taskCtx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				final := a2a.NewArtifact(fmt.Sprintf("%s-stream-%d", e.agentName, n))
				if err := e.store.AddArtifact(ctx, taskID, final, true, true); err != nil {
					log.Error("failed to close stream artifact", "task_id", taskID, "error", err)
				}
				done := a2a.NewTextMessage(a2a.RoleAssistant, "Stream completed")
				if err := e.store.SetStatus(ctx, taskID, a2a.TaskStateCompleted, &done); err != nil {
					log.Debug("terminal transition skipped", "task_id", taskID, "error", err)
				}
				return
			}
			if err := e.store.AddArtifact(ctx, taskID, StreamArtifact(e.agentName, n, chunk), true, false); err != nil {
				log.Error("failed to add stream chunk", "task_id", taskID, "chunk", n, "error", err)
			}
			n++
		}
	}
}

func (e *Executor) fail(ctx context.Context, taskID, message string) {
	msg := a2a.NewTextMessage(a2a.RoleAssistant, message)
	if err := e.store.SetStatus(ctx, taskID, a2a.TaskStateFailed, &msg); err != nil {
		logger.WithComponent("executor").Debug("terminal transition skipped",
			"task_id", taskID, "error", err)
	}
	metrics.ObserveTask(string(a2a.TaskStateFailed))
}

// Cancel transitions a non-terminal task to canceled, interrupting in-flight
// work best-effort.
func (e *Executor) Cancel(ctx context.Context, taskID string) (*a2a.Task, error) {
	t, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.State.IsTerminal() {
		return nil, task.ErrTaskTerminal
	}

	e.store.CancelContext(taskID)

	msg := a2a.NewTextMessage(a2a.RoleAssistant, "Task canceled by request")
	if err := e.store.SetStatus(ctx, taskID, a2a.TaskStateCanceled, &msg); err != nil {
		return nil, err
	}
	metrics.ObserveTask(string(a2a.TaskStateCanceled))
	return e.store.Get(ctx, taskID)
}

// forwardPush mirrors the task's event stream to registered webhooks.
func (e *Executor) forwardPush(taskID string) {
	if e.notifier == nil {
		return
	}
	events, cancel, err := e.store.Subscribe(taskID)
	if err != nil {
		return
	}
	go func() {
		defer cancel()
		for ev := range events {
			e.notifier.Notify(context.Background(), taskID, ev)
		}
	}()
}


// Package a2a defines the wire types of the Agent-to-Agent (A2A) protocol:
// tasks, messages, parts, artifacts, streaming events, and the agent card.
package a2a

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const ProtocolVersion = "1.0"

// ============================================================================
// TASK
// ============================================================================

// TaskState represents the lifecycle state of a task.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input_required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateRejected      TaskState = "rejected"
)

// IsTerminal returns whether this state admits no further transitions.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled, TaskStateRejected:
		return true
	}
	return false
}

// TaskStatus carries the current state plus an optional agent message.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is the unit of work. History is append-only; artifacts accumulate in
// emit order; no mutation is accepted once the status is terminal.
type Task struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Kind      string         `json:"kind,omitempty"`
	Status    TaskStatus     `json:"status"`
	History   []Message      `json:"history,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ============================================================================
// MESSAGE AND PARTS
// ============================================================================

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleFunction  MessageRole = "function"
	RoleTool      MessageRole = "tool"
)

// Message is immutable once appended to a task's history. TaskID and
// ContextID are optional client hints that bind the message to an existing
// task or conversation.
type Message struct {
	MessageID string         `json:"messageId"`
	Role      MessageRole    `json:"role"`
	Parts     []Part         `json:"parts"`
	Kind      string         `json:"kind,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PartType discriminates the Part union.
type PartType string

const (
	PartTypeText PartType = "text"
	PartTypeData PartType = "data"
)

// Part is a union of TextPart and DataPart.
type Part struct {
	Type PartType `json:"type"`

	// Text part
	Text string `json:"text,omitempty"`

	// Data part
	Data     any    `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

// NewTextPart builds a text part.
func NewTextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// NewDataPart builds a structured data part.
func NewDataPart(data any) Part {
	return Part{Type: PartTypeData, Data: data, MimeType: "application/json"}
}

// NewTextMessage builds a message with a single text part and a fresh ID.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{
		MessageID: uuid.New().String(),
		Role:      role,
		Parts:     []Part{NewTextPart(text)},
		Kind:      "message",
	}
}

// TextContent concatenates the text parts of a message.
func (m Message) TextContent() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ============================================================================
// ARTIFACT
// ============================================================================

// Artifact is a named, ordered collection of parts produced by a capability.
type Artifact struct {
	ArtifactID  string `json:"artifactId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parts       []Part `json:"parts"`
}

// NewArtifact builds an artifact with a fresh ID.
func NewArtifact(name string, parts ...Part) Artifact {
	return Artifact{
		ArtifactID: uuid.New().String(),
		Name:       name,
		Parts:      parts,
	}
}

// ============================================================================
// STREAMING EVENTS
// ============================================================================

// TaskStatusUpdateEvent announces a task status transition. Final marks the
// terminal event; nothing follows it on a stream.
type TaskStatusUpdateEvent struct {
	Kind      string     `json:"kind"` // "status-update"
	TaskID    string     `json:"taskId"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final"`
}

// TaskArtifactUpdateEvent carries one artifact chunk. Append extends the
// existing artifact of the same ID instead of replacing it.
type TaskArtifactUpdateEvent struct {
	Kind      string   `json:"kind"` // "artifact-update"
	TaskID    string   `json:"taskId"`
	ContextID string   `json:"contextId"`
	Artifact  Artifact `json:"artifact"`
	Append    bool     `json:"append"`
	LastChunk bool     `json:"lastChunk"`
}

// Event is any value that may be emitted on a task's event stream: *Task,
// TaskStatusUpdateEvent, or TaskArtifactUpdateEvent.
type Event any

// ============================================================================
// RPC METHOD PARAMETERS
// ============================================================================

// MessageSendParams are the parameters of message/send and message/stream.
type MessageSendParams struct {
	Message       Message               `json:"message"`
	Configuration *MessageConfiguration `json:"configuration,omitempty"`
	Metadata      map[string]any        `json:"metadata,omitempty"`
}

// MessageConfiguration provides per-request execution configuration.
type MessageConfiguration struct {
	Blocking               bool                    `json:"blocking,omitempty"`
	HistoryLength          *int                    `json:"historyLength,omitempty"`
	PushNotificationConfig *PushNotificationConfig `json:"pushNotificationConfig,omitempty"`
}

// TaskQueryParams are the parameters of tasks/get and tasks/resubscribe.
type TaskQueryParams struct {
	ID            string `json:"id"`
	HistoryLength *int   `json:"historyLength,omitempty"`
}

// TaskIDParams are the parameters of tasks/cancel and the push-config methods.
type TaskIDParams struct {
	ID string `json:"id"`
}

// PushNotificationConfigParams select one push config of a task. An empty
// config id on get means the task's first config.
type PushNotificationConfigParams struct {
	ID                       string `json:"id"`
	PushNotificationConfigID string `json:"pushNotificationConfigId,omitempty"`
}

// ============================================================================
// PUSH NOTIFICATIONS
// ============================================================================

// PushNotificationConfig describes one webhook registration.
type PushNotificationConfig struct {
	ID             string                      `json:"id,omitempty"`
	URL            string                      `json:"url"`
	Token          string                      `json:"token,omitempty"`
	Authentication *PushNotificationAuthConfig `json:"authentication,omitempty"`
}

// PushNotificationAuthConfig carries credentials for webhook delivery.
type PushNotificationAuthConfig struct {
	Schemes     []string `json:"schemes"`
	Credentials string   `json:"credentials,omitempty"`
}

// TaskPushNotificationConfig binds a push config to a task.
type TaskPushNotificationConfig struct {
	TaskID                 string                 `json:"taskId"`
	PushNotificationConfig PushNotificationConfig `json:"pushNotificationConfig"`
}

// ============================================================================
// AGENT CARD
// ============================================================================

// AgentCard advertises agent identity, skills, and security schemes at
// /.well-known/agent.json.
type AgentCard struct {
	Name               string           `json:"name"`
	Description        string           `json:"description"`
	URL                string           `json:"url"`
	Version            string           `json:"version"`
	ProtocolVersion    string           `json:"protocolVersion"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	DefaultInputModes  []string         `json:"defaultInputModes"`
	DefaultOutputModes []string         `json:"defaultOutputModes"`
	Skills             []AgentSkill     `json:"skills"`
	SecuritySchemes    map[string]SecurityScheme `json:"securitySchemes,omitempty"`
	Security           []map[string][]string     `json:"security,omitempty"`
}

// AgentCapabilities describes protocol-level features the agent supports.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// AgentSkill describes one routable capability.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
}

// SecurityScheme describes one authentication mechanism.
type SecurityScheme struct {
	Type         string `json:"type"`             // "apiKey", "http"
	Scheme       string `json:"scheme,omitempty"` // "bearer" for http
	In           string `json:"in,omitempty"`     // "header" for apiKey
	Name         string `json:"name,omitempty"`   // header name for apiKey
	BearerFormat string `json:"bearerFormat,omitempty"`
}

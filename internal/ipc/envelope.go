// Package ipc implements the coordinator↔worker wire protocol (§4.1):
// newline-delimited JSON envelopes, each carrying a correlation id and a
// tagged-union message. Grounded on the teacher's own process stdio
// plumbing (internal/orchestration/client/executable.go's line-oriented
// stdin/stdout handling and internal/orchestration/v2/process/process.go's
// read loop), generalized from "AI process transcript lines" to a framed
// request/response protocol with explicit message types.
package ipc

import (
	"time"

	"github.com/google/uuid"
)

// MaxLineBytes is the largest single envelope line the framing will
// accept; a longer line is a protocol error (§4.1).
const MaxLineBytes = 16 << 20 // 16 MiB

// MessageType discriminates the tagged union carried by an Envelope.
type MessageType string

const (
	MsgExecuteTask       MessageType = "execute_task"
	MsgValidateTask      MessageType = "validate_task"
	MsgPing              MessageType = "ping"
	MsgShutdown          MessageType = "shutdown"
	MsgTaskResult        MessageType = "task_result"
	MsgValidationResult  MessageType = "validation_result"
	MsgPong              MessageType = "pong"
	MsgReady             MessageType = "ready"
	MsgLog               MessageType = "log"
)

// Envelope is one line of the wire protocol: a JSON object with an
// envelope id, an RFC 3339 timestamp, and exactly one message payload
// selected by Type.
type Envelope struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"message"`

	ExecuteTask      *ExecuteTask      `json:"execute_task,omitempty"`
	ValidateTask     *ValidateTask     `json:"validate_task,omitempty"`
	Ping             *Ping             `json:"ping,omitempty"`
	TaskResult       *TaskResult       `json:"task_result,omitempty"`
	ValidationResult *ValidationResult `json:"validation_result,omitempty"`
	Pong             *PongMsg          `json:"pong,omitempty"`
	Ready            *ReadyMsg         `json:"ready,omitempty"`
	Log              *LogMsg           `json:"log,omitempty"`
}

// newEnvelope stamps a fresh envelope id and timestamp for message type
// t; the New* constructors below then set the matching payload, so
// callers never forget either field.
func newEnvelope(t MessageType) Envelope {
	return Envelope{ID: uuid.NewString(), Timestamp: time.Now().UTC(), Type: t}
}

// Coordinator→Worker payloads.

type ExecuteTask struct {
	CorrelationID string          `json:"correlation_id"`
	JobID         int64           `json:"job_id"`
	TaskID        int64           `json:"task_id"`
	TaskName      string          `json:"task_name"`
	TaskVersion   string          `json:"task_version"`
	Source        string          `json:"source"`
	InputSchema   string          `json:"input_schema"`
	OutputSchema  string          `json:"output_schema"`
	Input         string          `json:"input"` // raw JSON
	ExecutionID   int64           `json:"execution_id"`
	Recording     bool            `json:"recording"`
	AllowedHosts  []string        `json:"allowed_hosts"`
	FetchTimeout  time.Duration   `json:"fetch_timeout"`
}

type ValidateTask struct {
	CorrelationID string `json:"correlation_id"`
	InputSchema   string `json:"input_schema"`
	OutputSchema  string `json:"output_schema"`
	Input         string `json:"input"`
}

type Ping struct {
	CorrelationID string `json:"correlation_id"`
}

// Worker→Coordinator payloads.

// TaskOutcome is the tagged result of running a task: exactly one of
// Output or Err is set, mirroring the worker's error classification in
// §4.2/§4.8.
type TaskOutcome struct {
	Output   string    `json:"output,omitempty"` // raw JSON
	Err      *ErrPayload `json:"error,omitempty"`
	Progress *float64  `json:"progress,omitempty"`
}

type ErrPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type TaskResult struct {
	CorrelationID string      `json:"correlation_id"`
	JobID         int64       `json:"job_id"`
	ExecutionID   int64       `json:"execution_id"`
	Result        TaskOutcome `json:"result"`
}

type ValidationResult struct {
	CorrelationID string      `json:"correlation_id"`
	Valid         bool        `json:"valid"`
	Err           *ErrPayload `json:"error,omitempty"`
}

type PongMsg struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
}

type ReadyMsg struct {
	WorkerID string `json:"worker_id"`
}

type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

type LogMsg struct {
	Level   LogLevel `json:"level"`
	Message string   `json:"message"`
}

// Constructors — each stamps ID/Timestamp/Type together so a caller can
// never build a mismatched envelope.

func NewExecuteTask(m ExecuteTask) Envelope {
	e := newEnvelope(MsgExecuteTask)
	e.ExecuteTask = &m
	return e
}

func NewValidateTask(m ValidateTask) Envelope {
	e := newEnvelope(MsgValidateTask)
	e.ValidateTask = &m
	return e
}

func NewPing(correlationID string) Envelope {
	e := newEnvelope(MsgPing)
	e.Ping = &Ping{CorrelationID: correlationID}
	return e
}

func NewShutdown() Envelope {
	return newEnvelope(MsgShutdown)
}

func NewTaskResult(m TaskResult) Envelope {
	e := newEnvelope(MsgTaskResult)
	e.TaskResult = &m
	return e
}

func NewValidationResult(m ValidationResult) Envelope {
	e := newEnvelope(MsgValidationResult)
	e.ValidationResult = &m
	return e
}

func NewPong(correlationID, status string) Envelope {
	e := newEnvelope(MsgPong)
	e.Pong = &PongMsg{CorrelationID: correlationID, Status: status}
	return e
}

func NewReady(workerID string) Envelope {
	e := newEnvelope(MsgReady)
	e.Ready = &ReadyMsg{WorkerID: workerID}
	return e
}

func NewLog(level LogLevel, message string) Envelope {
	e := newEnvelope(MsgLog)
	e.Log = &LogMsg{Level: level, Message: message}
	return e
}

// CorrelationID extracts the correlation id carried by whichever payload
// is set, or "" for envelopes that do not correlate (Ready, Log, Shutdown).
func (e Envelope) CorrelationID() string {
	switch e.Type {
	case MsgExecuteTask:
		return e.ExecuteTask.CorrelationID
	case MsgValidateTask:
		return e.ValidateTask.CorrelationID
	case MsgPing:
		return e.Ping.CorrelationID
	case MsgTaskResult:
		return e.TaskResult.CorrelationID
	case MsgValidationResult:
		return e.ValidationResult.CorrelationID
	case MsgPong:
		return e.Pong.CorrelationID
	default:
		return ""
	}
}

// Package execution defines the per-invocation payload and outcome types
// crossing the host/guest boundary. Field names are part of the ABI: renaming
// one is a breaking change requiring an abi_version bump.
package execution

import (
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// LogLevel mirrors the guest-side log level ordinals.
type LogLevel uint8

const (
	LogDebug LogLevel = 0
	LogInfo  LogLevel = 1
	LogWarn  LogLevel = 2
	LogError LogLevel = 3
	LogFatal LogLevel = 4
)

// Input is the per-invocation payload handed to the sandbox by the workflow
// engine. It is consumed once and never mutated by the guest.
type Input struct {
	NodeID      string                     `json:"node_id"`
	RunID       string                     `json:"run_id" validate:"required"`
	AppID       string                     `json:"app_id"`
	BoardID     string                     `json:"board_id"`
	UserID      string                     `json:"user_id"`
	NodeName    string                     `json:"node_name" validate:"required"`
	Inputs      map[string]json.RawMessage `json:"inputs"`
	StreamState bool                       `json:"stream_state"`
	LogLevel    LogLevel                   `json:"log_level"`
}

// Result is the per-invocation outcome. If Error is set, callers must not
// treat outputs as valid; activated exec pins are then limited to an explicit
// error-path pin.
type Result struct {
	Outputs      map[string]json.RawMessage `json:"outputs"`
	ActivateExec []string                   `json:"activate_exec"`
	Error        *string                    `json:"error,omitempty"`
	Pending      bool                       `json:"pending"`
}

// NewResult returns an empty successful result.
func NewResult() Result {
	return Result{
		Outputs:      make(map[string]json.RawMessage),
		ActivateExec: []string{},
	}
}

// Failed returns a result carrying an error message.
func Failed(msg string) Result {
	r := NewResult()
	r.Error = &msg
	return r
}

// Failf formats a failure result.
func Failf(format string, args ...any) Result {
	return Failed(fmt.Sprintf(format, args...))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the structural requirements of an Input before it reaches
// the sandbox.
func (in *Input) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("invalid execution input: %w", err)
	}
	return nil
}

// LogEntry is one guest log line collected by the execution context, delivered
// to the caller in emission order.
type LogEntry struct {
	Level   LogLevel        `json:"level"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// StreamEvent is one streaming event emitted by the guest, delivered to the
// caller in emission order.
type StreamEvent struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

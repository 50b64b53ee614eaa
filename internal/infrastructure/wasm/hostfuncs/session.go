// Package hostfuncs implements the host capability surface: the fixed set of
// functions guest code can call, each gated by the permission enforcer before
// it takes effect. This is the entire attack surface; guests have no other
// way to interact with the host.
package hostfuncs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"github.com/flowhost-dev/flowhost/internal/domain/capability"
	"github.com/flowhost-dev/flowhost/internal/domain/execution"
	"github.com/flowhost-dev/flowhost/internal/domain/node"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/models"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/oauth"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/storage"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/stores"
	"github.com/flowhost-dev/flowhost/wireformat"
)

// Session is the execution context of one invocation: input bindings, output
// accumulator, activated exec pins, log and stream sinks, and the host-side
// bindings the capability surface operates on. It is created immediately
// before the guest run call and discarded immediately after; nothing in it
// outlives the invocation.
type Session struct {
	input    execution.Input
	def      *node.Definition
	enforcer *capability.Enforcer
	clock    Clock

	vars     stores.VariableStore
	cache    stores.CacheStore
	storage  *storage.Context
	tokens   *oauth.TokenStore
	embedder models.EmbeddingProvider
	http     *HTTPExecutor

	mu       sync.Mutex
	inputs   map[string]json.RawMessage
	outputs  map[string]json.RawMessage
	execPins []string
	logs     []execution.LogEntry
	events   []execution.StreamEvent

	// onEvent, when set, receives stream events live and in emission order.
	onEvent func(execution.StreamEvent)
}

// SessionOption configures optional session bindings.
type SessionOption func(*Session)

// WithVariables binds the run-scoped variable store.
func WithVariables(vars stores.VariableStore) SessionOption {
	return func(s *Session) { s.vars = vars }
}

// WithCache binds the node cache store.
func WithCache(cache stores.CacheStore) SessionOption {
	return func(s *Session) { s.cache = cache }
}

// WithStorage binds the storage context.
func WithStorage(sc *storage.Context) SessionOption {
	return func(s *Session) { s.storage = sc }
}

// WithTokens binds the OAuth token store.
func WithTokens(tokens *oauth.TokenStore) SessionOption {
	return func(s *Session) { s.tokens = tokens }
}

// WithEmbedder binds the embedding provider.
func WithEmbedder(p models.EmbeddingProvider) SessionOption {
	return func(s *Session) { s.embedder = p }
}

// WithHTTP binds the host-side HTTP executor.
func WithHTTP(h *HTTPExecutor) SessionOption {
	return func(s *Session) { s.http = h }
}

// WithClock substitutes the session clock.
func WithClock(c Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// WithStreamSink registers a live stream event consumer.
func WithStreamSink(fn func(execution.StreamEvent)) SessionOption {
	return func(s *Session) { s.onEvent = fn }
}

// NewSession builds the execution context for one invocation. Input pin
// values missing from the payload fall back to the pin's declared default.
func NewSession(in execution.Input, def *node.Definition, enf *capability.Enforcer, opts ...SessionOption) *Session {
	s := &Session{
		input:    in,
		def:      def,
		enforcer: enf,
		clock:    SystemClock{},
		inputs:   make(map[string]json.RawMessage, len(in.Inputs)),
		outputs:  make(map[string]json.RawMessage),
	}
	for name, value := range in.Inputs {
		s.inputs[name] = value
	}
	if def != nil {
		for _, pin := range def.Pins {
			if pin.PinType != node.PinInput || pin.DataType == node.DataTypeExec {
				continue
			}
			if _, ok := s.inputs[pin.Name]; !ok && len(pin.DefaultValue) > 0 {
				s.inputs[pin.Name] = pin.DefaultValue
			}
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Meta returns the invocation metadata.
func (s *Session) Meta() execution.Input {
	return s.input
}

// Definition returns the node definition bound to this invocation.
func (s *Session) Definition() *node.Definition {
	return s.def
}

// ---- logging (never gated: observability is not a security boundary) ----

// Log records one guest log line and forwards it to the host logger.
func (s *Session) Log(level execution.LogLevel, message string, data json.RawMessage) {
	s.mu.Lock()
	s.logs = append(s.logs, execution.LogEntry{Level: level, Message: message, Data: data})
	s.mu.Unlock()

	attrs := []any{"run_id", s.input.RunID, "node", s.input.NodeName}
	if len(data) > 0 {
		attrs = append(attrs, "data", string(data))
	}
	switch level {
	case execution.LogDebug:
		slog.Debug(message, attrs...)
	case execution.LogWarn:
		slog.Warn(message, attrs...)
	case execution.LogError, execution.LogFatal:
		slog.Error(message, attrs...)
	default:
		slog.Info(message, attrs...)
	}
}

// Logs returns the collected log entries in emission order.
func (s *Session) Logs() []execution.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]execution.LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

// ---- pins (touch only this invocation's own state, never gated) ----

// Input returns the raw value bound to an input pin, after defaults.
func (s *Session) Input(name string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.inputs[name]
	return v, ok
}

// SetOutput records an output pin value. Last write wins.
func (s *Session) SetOutput(name string, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[name] = value
}

// ActivateExec marks an exec output pin to fire. Repeat activations of the
// same pin collapse to one.
func (s *Session) ActivateExec(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.execPins {
		if p == name {
			return
		}
	}
	s.execPins = append(s.execPins, name)
}

// ---- streaming ----

// StreamEmit emits a typed stream event. Returns false when the streaming
// capability is denied; the event is then dropped with no side effect.
func (s *Session) StreamEmit(eventType string, data json.RawMessage) bool {
	if err := s.enforcer.Check(capability.Streaming); err != nil {
		return false
	}
	ev := execution.StreamEvent{EventType: eventType, Data: data}
	s.mu.Lock()
	s.events = append(s.events, ev)
	sink := s.onEvent
	s.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
	return true
}

// StreamText emits a plain text chunk as a "text" event.
func (s *Session) StreamText(text string) bool {
	data, err := json.Marshal(text)
	if err != nil {
		return false
	}
	return s.StreamEmit("text", data)
}

// Events returns the collected stream events in emission order.
func (s *Session) Events() []execution.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]execution.StreamEvent, len(s.events))
	copy(out, s.events)
	return out
}

// ---- variables ----

func (s *Session) VarGet(name string) (json.RawMessage, bool) {
	if s.vars == nil || s.enforcer.Check(capability.Variables) != nil {
		return nil, false
	}
	return s.vars.Get(name)
}

func (s *Session) VarSet(name string, value json.RawMessage) bool {
	if s.vars == nil || s.enforcer.Check(capability.Variables) != nil {
		return false
	}
	s.vars.Set(name, value)
	return true
}

func (s *Session) VarDelete(name string) {
	if s.vars == nil || s.enforcer.Check(capability.Variables) != nil {
		return
	}
	s.vars.Delete(name)
}

func (s *Session) VarHas(name string) bool {
	if s.vars == nil || s.enforcer.Check(capability.Variables) != nil {
		return false
	}
	return s.vars.Has(name)
}

// ---- cache ----

func (s *Session) CacheGet(key string) (json.RawMessage, bool) {
	if s.cache == nil || s.enforcer.Check(capability.Cache) != nil {
		return nil, false
	}
	return s.cache.Get(s.input.NodeName, key)
}

func (s *Session) CacheSet(key string, value json.RawMessage) bool {
	if s.cache == nil || s.enforcer.Check(capability.Cache) != nil {
		return false
	}
	s.cache.Set(s.input.NodeName, key, value)
	return true
}

func (s *Session) CacheDelete(key string) {
	if s.cache == nil || s.enforcer.Check(capability.Cache) != nil {
		return
	}
	s.cache.Delete(s.input.NodeName, key)
}

func (s *Session) CacheHas(key string) bool {
	if s.cache == nil || s.enforcer.Check(capability.Cache) != nil {
		return false
	}
	return s.cache.Has(s.input.NodeName, key)
}

// ---- time and randomness (never gated) ----

func (s *Session) TimeNow() int64 {
	return s.clock.Now()
}

func (s *Session) Random() float64 {
	return s.clock.Random()
}

// ---- storage ----

// storageScopeAllowed applies the scope gating shared by all directory
// issuing calls: node-scoped requests need storage:node on top of the base
// capability.
func (s *Session) storageScopeAllowed(base capability.Capability, nodeScoped bool) bool {
	if s.storage == nil || s.enforcer.Check(base) != nil {
		return false
	}
	if nodeScoped && s.enforcer.Check(capability.StorageNode) != nil {
		return false
	}
	return true
}

func (s *Session) StorageDir(nodeScoped bool) (wireformat.FlowPathWire, bool) {
	if !s.storageScopeAllowed(capability.StorageRead, nodeScoped) {
		return wireformat.FlowPathWire{}, false
	}
	return s.storage.StorageDir(nodeScoped), true
}

func (s *Session) UploadDir() (wireformat.FlowPathWire, bool) {
	if !s.storageScopeAllowed(capability.StorageRead, false) {
		return wireformat.FlowPathWire{}, false
	}
	return s.storage.UploadDir(), true
}

func (s *Session) CacheDir(nodeScoped, userScoped bool) (wireformat.FlowPathWire, bool) {
	if !s.storageScopeAllowed(capability.StorageRead, nodeScoped) {
		return wireformat.FlowPathWire{}, false
	}
	if userScoped && s.enforcer.Check(capability.StorageUser) != nil {
		return wireformat.FlowPathWire{}, false
	}
	return s.storage.CacheDir(nodeScoped, userScoped), true
}

func (s *Session) UserDir(nodeScoped bool) (wireformat.FlowPathWire, bool) {
	if s.storage == nil || s.enforcer.Check(capability.StorageUser) != nil {
		return wireformat.FlowPathWire{}, false
	}
	if nodeScoped && s.enforcer.Check(capability.StorageNode) != nil {
		return wireformat.FlowPathWire{}, false
	}
	return s.storage.UserDir(nodeScoped), true
}

func (s *Session) StorageRead(ctx context.Context, fp wireformat.FlowPathWire) ([]byte, bool) {
	if s.storage == nil || s.enforcer.Check(capability.StorageRead) != nil {
		return nil, false
	}
	data, err := s.storage.Read(ctx, fp)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *Session) StorageWrite(ctx context.Context, fp wireformat.FlowPathWire, data []byte) bool {
	if s.storage == nil || s.enforcer.Check(capability.StorageWrite) != nil {
		return false
	}
	if err := s.storage.Write(ctx, fp, data); err != nil {
		slog.Warn("storage write failed", "path", fp.Path, "error", err)
		return false
	}
	return true
}

func (s *Session) StorageList(ctx context.Context, fp wireformat.FlowPathWire) ([]wireformat.FlowPathWire, bool) {
	if s.storage == nil || s.enforcer.Check(capability.StorageRead) != nil {
		return nil, false
	}
	entries, err := s.storage.List(ctx, fp)
	if err != nil {
		return nil, false
	}
	return entries, true
}

// ---- models ----

func (s *Session) EmbedText(ctx context.Context, modelBit string, texts []string) ([][]float32, bool) {
	if s.embedder == nil || s.enforcer.Check(capability.Models) != nil {
		return nil, false
	}
	vectors, err := s.embedder.EmbedText(ctx, modelBit, texts)
	if err != nil {
		slog.Warn("embedding request failed", "model", modelBit, "error", err)
		return nil, false
	}
	return vectors, true
}

// ---- oauth ----

func (s *Session) OAuthToken(provider string) (wireformat.OAuthTokenWire, bool) {
	if s.tokens == nil || s.enforcer.Check(capability.OAuth) != nil {
		return wireformat.OAuthTokenWire{}, false
	}
	token, ok := s.tokens.Get(provider)
	if !ok {
		return wireformat.OAuthTokenWire{}, false
	}
	return token.Wire(), true
}

func (s *Session) HasOAuthToken(provider string) bool {
	if s.tokens == nil || s.enforcer.Check(capability.OAuth) != nil {
		return false
	}
	return s.tokens.Has(provider)
}

// ---- http ----

func (s *Session) HTTPRequest(ctx context.Context, req wireformat.HTTPRequestWire) (wireformat.HTTPResponseWire, bool) {
	if s.http == nil || s.enforcer.Check(capability.NetworkHTTP) != nil {
		return wireformat.HTTPResponseWire{}, false
	}
	return s.http.Do(ctx, req), true
}

// ---- result assembly ----

// Finish merges the guest-returned result over the state accumulated through
// host calls. Guest-returned outputs win over set_output values of the same
// pin; exec activations are the union in activation order.
func (s *Session) Finish(guest execution.Result) execution.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := execution.NewResult()
	for name, value := range s.outputs {
		out.Outputs[name] = value
	}
	for name, value := range guest.Outputs {
		out.Outputs[name] = value
	}

	out.ActivateExec = append(out.ActivateExec, s.execPins...)
	for _, pin := range guest.ActivateExec {
		seen := false
		for _, existing := range out.ActivateExec {
			if existing == pin {
				seen = true
				break
			}
		}
		if !seen {
			out.ActivateExec = append(out.ActivateExec, pin)
		}
	}

	out.Error = guest.Error
	out.Pending = guest.Pending
	return out
}

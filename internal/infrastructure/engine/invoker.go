// Package engine orchestrates single node invocations: trust gating, input
// validation, concurrency capping, timeout enforcement, and translation of
// every failure mode into a terminal outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/flowhost-dev/flowhost/internal/domain/capability"
	"github.com/flowhost-dev/flowhost/internal/domain/execution"
	"github.com/flowhost-dev/flowhost/internal/domain/node"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/models"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/oauth"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/storage"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/stores"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/trust"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/wasm/hostfuncs"
)

// ErrNotTrusted means the trust gate rejected the package digest. The caller
// decides whether to prompt for consent and retry.
var ErrNotTrusted = errors.New("package not trusted")

// NodePackage is the engine's view of a loaded package. wasm.Package is the
// production implementation; tests substitute in-process packages.
type NodePackage interface {
	Name() string
	Digest() string
	Definition(name string) (*node.Definition, bool)
	Permissions() capability.Set
	Invoke(ctx context.Context, session *hostfuncs.Session, in execution.Input) (execution.Result, error)
}

// State is the terminal state of an invocation.
type State string

const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Outcome is the full record of one finished invocation.
type Outcome struct {
	State    State
	Result   execution.Result
	Logs     []execution.LogEntry
	Events   []execution.StreamEvent
	Duration time.Duration
}

// Config carries the invoker limits.
type Config struct {
	// Timeout bounds one invocation wall-clock. Zero picks the default.
	Timeout time.Duration
	// LongRunningTimeout applies to nodes declaring long_running.
	LongRunningTimeout time.Duration
	// MaxConcurrent caps in-flight invocations. Zero picks the default.
	MaxConcurrent int64
}

const (
	defaultTimeout            = 30 * time.Second
	defaultLongRunningTimeout = 5 * time.Minute
	defaultMaxConcurrent      = 16
)

// Invoker executes node invocations against loaded packages.
type Invoker struct {
	cfg    Config
	gate   *trust.Gate
	sem    *semaphore.Weighted
	grants capability.Set

	vars       *stores.VariableScopes
	cache      stores.CacheStore
	boardStore storage.BlobStore
	cacheStore storage.BlobStore
	userStore  storage.BlobStore
	tokens     *oauth.TokenStore
	embedder   models.EmbeddingProvider
	http       *hostfuncs.HTTPExecutor
	clock      hostfuncs.Clock
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithTrustGate installs the consent gate. Without one, every package runs.
func WithTrustGate(g *trust.Gate) Option {
	return func(iv *Invoker) { iv.gate = g }
}

// WithGrants adds runtime capability grants on top of each package's
// declared permissions.
func WithGrants(grants capability.Set) Option {
	return func(iv *Invoker) { iv.grants = grants }
}

// WithCacheStore installs the node cache backend.
func WithCacheStore(c stores.CacheStore) Option {
	return func(iv *Invoker) { iv.cache = c }
}

// WithBlobStores installs the board, cache, and user blob stores backing the
// storage capability surface.
func WithBlobStores(board, cache, user storage.BlobStore) Option {
	return func(iv *Invoker) {
		iv.boardStore = board
		iv.cacheStore = cache
		iv.userStore = user
	}
}

// WithTokenStore installs the OAuth token source.
func WithTokenStore(tokens *oauth.TokenStore) Option {
	return func(iv *Invoker) { iv.tokens = tokens }
}

// WithEmbedder installs the embedding provider.
func WithEmbedder(p models.EmbeddingProvider) Option {
	return func(iv *Invoker) { iv.embedder = p }
}

// WithHTTPExecutor installs the guest HTTP executor.
func WithHTTPExecutor(h *hostfuncs.HTTPExecutor) Option {
	return func(iv *Invoker) { iv.http = h }
}

// WithClock substitutes the invocation clock.
func WithClock(c hostfuncs.Clock) Option {
	return func(iv *Invoker) { iv.clock = c }
}

// NewInvoker creates an invoker with the given limits.
func NewInvoker(cfg Config, opts ...Option) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.LongRunningTimeout <= 0 {
		cfg.LongRunningTimeout = defaultLongRunningTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	iv := &Invoker{
		cfg:   cfg,
		sem:   semaphore.NewWeighted(cfg.MaxConcurrent),
		vars:  stores.NewVariableScopes(),
		cache: stores.NewMemoryCache(),
		clock: hostfuncs.SystemClock{},
	}
	for _, opt := range opts {
		opt(iv)
	}
	return iv
}

// Variables exposes the scope registry so callers can drop a run's variables
// once the run finishes.
func (iv *Invoker) Variables() *stores.VariableScopes {
	return iv.vars
}

// variableScopeKey picks the sharing scope for variables: nodes on one board
// share, ad-hoc runs stay isolated.
func variableScopeKey(in execution.Input) string {
	if in.BoardID != "" {
		return in.BoardID
	}
	return in.RunID
}

// Invoke runs one node invocation end to end. Pre-flight failures (untrusted
// package, invalid input, unknown node) return an error; once the guest
// starts, every failure mode lands in the Outcome instead.
func (iv *Invoker) Invoke(ctx context.Context, pkg NodePackage, in execution.Input, extra ...hostfuncs.SessionOption) (Outcome, error) {
	if err := in.Validate(); err != nil {
		return Outcome{}, err
	}
	if iv.gate != nil && !iv.gate.Allow(pkg.Digest(), in.BoardID) {
		return Outcome{}, fmt.Errorf("%w: %s (%s)", ErrNotTrusted, pkg.Name(), pkg.Digest())
	}
	def, ok := pkg.Definition(in.NodeName)
	if !ok {
		return Outcome{}, fmt.Errorf("package %s has no node %q", pkg.Name(), in.NodeName)
	}

	if err := iv.sem.Acquire(ctx, 1); err != nil {
		return Outcome{}, fmt.Errorf("failed to acquire invocation slot: %w", err)
	}
	defer iv.sem.Release(1)

	timeout := iv.cfg.Timeout
	if def.LongRunning {
		timeout = iv.cfg.LongRunningTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	enforcer := capability.NewEnforcer(pkg.Permissions(), iv.grants)
	session := hostfuncs.NewSession(in, def, enforcer, iv.sessionOptions(in, extra)...)

	start := time.Now()
	result, err := iv.invokeGuarded(runCtx, pkg, session, in)
	elapsed := time.Since(start)

	outcome := Outcome{
		Result:   result,
		Logs:     session.Logs(),
		Events:   session.Events(),
		Duration: elapsed,
	}

	switch {
	case err != nil && isTimeout(runCtx, err):
		// Partial outputs from an interrupted guest are not trustworthy.
		outcome.State = StateTimedOut
		outcome.Result = execution.Failf("node %s timed out after %s", in.NodeName, timeout)
		slog.Warn("invocation timed out", "node", in.NodeName, "run_id", in.RunID, "timeout", timeout)
	case err != nil:
		outcome.State = StateFailed
		outcome.Result = execution.Failed(err.Error())
		slog.Warn("invocation failed", "node", in.NodeName, "run_id", in.RunID, "error", err)
	case result.Error != nil:
		outcome.State = StateFailed
	default:
		outcome.State = StateCompleted
	}
	return outcome, nil
}

func (iv *Invoker) sessionOptions(in execution.Input, extra []hostfuncs.SessionOption) []hostfuncs.SessionOption {
	opts := []hostfuncs.SessionOption{
		hostfuncs.WithVariables(iv.vars.ForScope(variableScopeKey(in))),
		hostfuncs.WithCache(iv.cache),
		hostfuncs.WithClock(iv.clock),
	}
	if iv.boardStore != nil || iv.cacheStore != nil || iv.userStore != nil {
		sc := storage.NewContext(iv.boardStore, iv.cacheStore, iv.userStore,
			in.AppID, in.BoardID, in.NodeID, in.UserID)
		opts = append(opts, hostfuncs.WithStorage(sc))
	}
	if iv.tokens != nil {
		opts = append(opts, hostfuncs.WithTokens(iv.tokens))
	}
	if iv.embedder != nil {
		opts = append(opts, hostfuncs.WithEmbedder(iv.embedder))
	}
	if iv.http != nil {
		opts = append(opts, hostfuncs.WithHTTP(iv.http))
	}
	return append(opts, extra...)
}

// invokeGuarded contains the guest call behind a recover barrier: nothing
// below the engine boundary panics outward.
func (iv *Invoker) invokeGuarded(ctx context.Context, pkg NodePackage, session *hostfuncs.Session, in execution.Input) (result execution.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during invocation of node %s: %v", in.NodeName, r)
		}
	}()
	return pkg.Invoke(ctx, session, in)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// wazero surfaces an interrupted guest as a closed-module error; the
	// context tells us whether the deadline caused it.
	return ctx.Err() == context.DeadlineExceeded
}

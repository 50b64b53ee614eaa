// Package wasm hosts node packages inside a wazero sandbox. A Runtime owns
// the wazero instance, the host import modules, and the cache of loaded
// packages; a Package owns one compiled module and executes single node
// invocations against fresh instances.
package wasm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/flowhost-dev/flowhost/internal/infrastructure/wasm/hostfuncs"
)

// globalCache speeds up compilation across runtimes.
var globalCache = wazero.NewCompilationCache()

// Config carries the runtime limits.
type Config struct {
	// MemoryLimitMB caps guest linear memory. 0 picks the default, -1
	// disables the cap.
	MemoryLimitMB int
}

const defaultMemoryLimitMB = 256

// Runtime manages WASM package loading and execution.
type Runtime struct {
	runtime wazero.Runtime

	mu       sync.RWMutex
	packages map[string]*Package // keyed by digest
}

// NewRuntime creates a runtime with the host import modules installed.
// Closing the context passed to guest calls interrupts execution; that is the
// only interruption mechanism, so callers must set deadlines.
func NewRuntime(ctx context.Context, cfg Config) (*Runtime, error) {
	limitMB := cfg.MemoryLimitMB
	switch {
	case limitMB == 0:
		limitMB = defaultMemoryLimitMB
	case limitMB == -1:
		slog.Warn("wasm memory limit disabled")
	case limitMB < -1:
		return nil, fmt.Errorf("invalid wasm memory limit: %d", limitMB)
	}

	config := wazero.NewRuntimeConfig().
		WithCompilationCache(globalCache).
		WithCloseOnContextDone(true)
	if limitMB > 0 {
		// 1 MB = 16 pages of 64KB.
		config = config.WithMemoryLimitPages(uint32(limitMB * 16)) //nolint:gosec
	}

	r := wazero.NewRuntimeWithConfig(ctx, config)

	// WASI covers clock/random/stdio syscalls for guests built against it.
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	if err := hostfuncs.RegisterHostModules(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}

	return &Runtime{
		runtime:  r,
		packages: make(map[string]*Package),
	}, nil
}

// Load compiles wasmBytes, probes the module for its definitions, and caches
// the resulting package by content digest. Loading the same bytes twice
// returns the cached package.
func (r *Runtime) Load(ctx context.Context, name string, wasmBytes []byte) (*Package, error) {
	sum := sha256.Sum256(wasmBytes)
	digest := hex.EncodeToString(sum[:])

	r.mu.RLock()
	if p, ok := r.packages[digest]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.packages[digest]; ok {
		return p, nil
	}

	compiled, err := r.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}

	p := &Package{
		name:    name,
		digest:  digest,
		module:  compiled,
		runtime: r.runtime,
	}
	if err := p.probe(ctx); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	r.packages[digest] = p
	slog.Info("loaded node package",
		"name", name,
		"digest", digest[:12],
		"nodes", len(p.manifest.Nodes),
		"abi_version", p.manifest.ABIVersion)
	return p, nil
}

// Package returns a loaded package by digest.
func (r *Runtime) Package(digest string) (*Package, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packages[digest]
	return p, ok
}

// Close releases the runtime and every compiled module.
func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

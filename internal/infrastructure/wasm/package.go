package wasm

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/flowhost-dev/flowhost/internal/domain/capability"
	"github.com/flowhost-dev/flowhost/internal/domain/execution"
	"github.com/flowhost-dev/flowhost/internal/domain/node"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/wasm/hostfuncs"
	"github.com/flowhost-dev/flowhost/wireformat"
)

// ABI version range this host speaks.
const (
	MinABIVersion uint32 = 1
	MaxABIVersion uint32 = 1
)

// requiredExports are the guest functions every node package must provide.
var requiredExports = []string{
	"get_abi_version", "get_nodes", "get_node", "run", "allocate", "deallocate",
}

// Manifest is the load-time summary of a package, derived from its exports.
type Manifest struct {
	Name        string            `json:"name"`
	Version     string            `json:"version,omitempty"`
	ABIVersion  uint32            `json:"abi_version"`
	Permissions []string          `json:"permissions"`
	Nodes       []node.Definition `json:"nodes"`
}

// Package is one loaded node package: a compiled module plus the metadata
// probed from it. Invocations instantiate fresh; the Package itself is safe
// for concurrent use.
type Package struct {
	name    string
	digest  string
	module  wazero.CompiledModule
	runtime wazero.Runtime

	manifest    Manifest
	definitions map[string]*node.Definition
	permissions capability.Set
	schemas     map[string]*jsonschema.Schema // keyed node/pin
}

// Name returns the load-time package name.
func (p *Package) Name() string { return p.name }

// Digest returns the sha256 content digest of the package bytes.
func (p *Package) Digest() string { return p.digest }

// Manifest returns the probed package manifest.
func (p *Package) Manifest() Manifest { return p.manifest }

// Definitions returns every node definition the package exports.
func (p *Package) Definitions() []node.Definition { return p.manifest.Nodes }

// Definition returns one node definition by name.
func (p *Package) Definition(name string) (*node.Definition, bool) {
	d, ok := p.definitions[name]
	return d, ok
}

// Permissions returns the union of every node's declared permissions.
func (p *Package) Permissions() capability.Set { return p.permissions }

// PinSchema returns the compiled schema for a Struct pin, if the definition
// carries one.
func (p *Package) PinSchema(nodeName, pinName string) (*jsonschema.Schema, bool) {
	s, ok := p.schemas[nodeName+"/"+pinName]
	return s, ok
}

func (p *Package) moduleConfig() wazero.ModuleConfig {
	// Anonymous instances so concurrent invocations of one compiled module
	// never collide on the module name. Guests get no filesystem.
	return wazero.NewModuleConfig().
		WithName("").
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithStdout(os.Stderr).
		WithStderr(os.Stderr)
}

func (p *Package) createInstance(ctx context.Context) (api.Module, error) {
	instance, err := p.runtime.InstantiateModule(ctx, p.module, p.moduleConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate package %s: %w", p.name, err)
	}

	// Reactor-style modules export _initialize instead of _start.
	if initFn := instance.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = instance.Close(ctx)
			return nil, fmt.Errorf("failed to initialize package %s: %w", p.name, err)
		}
	}
	return instance, nil
}

// probe instantiates the module once to verify its exports, negotiate the ABI
// version, and read out the node definitions. It runs under the load lock.
func (p *Package) probe(ctx context.Context) error {
	instance, err := p.createInstance(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer func() { _ = instance.Close(ctx) }()

	if instance.Memory() == nil {
		return fmt.Errorf("%w: %s: memory", ErrMissingExport, p.name)
	}
	for _, name := range requiredExports {
		if instance.ExportedFunction(name) == nil {
			return fmt.Errorf("%w: %s: %s", ErrMissingExport, p.name, name)
		}
	}

	abiResults, err := instance.ExportedFunction("get_abi_version").Call(ctx)
	if err != nil || len(abiResults) == 0 {
		return fmt.Errorf("%w: %s: get_abi_version failed: %v", ErrMalformed, p.name, err)
	}
	abiVersion := uint32(abiResults[0]) //nolint:gosec
	if abiVersion < MinABIVersion || abiVersion > MaxABIVersion {
		return fmt.Errorf("%w: package %s reports %d, host speaks [%d, %d]",
			ErrIncompatibleABI, p.name, abiVersion, MinABIVersion, MaxABIVersion)
	}

	nodesRaw, err := p.callPacked(ctx, instance, "get_nodes")
	if err != nil {
		return fmt.Errorf("%w: %s: get_nodes: %v", ErrMalformed, p.name, err)
	}
	var definitions []node.Definition
	if err := json.Unmarshal(nodesRaw, &definitions); err != nil {
		return fmt.Errorf("%w: %s: invalid node definitions: %v", ErrMalformed, p.name, err)
	}
	if len(definitions) == 0 {
		return fmt.Errorf("%w: %s: package exports no nodes", ErrMalformed, p.name)
	}

	p.definitions = make(map[string]*node.Definition, len(definitions))
	p.schemas = make(map[string]*jsonschema.Schema)
	permissionNames := map[string]bool{}
	for i := range definitions {
		d := &definitions[i]
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, p.name, err)
		}
		if _, dup := p.definitions[d.Name]; dup {
			return fmt.Errorf("%w: %s: %s", ErrDuplicateNodeName, p.name, d.Name)
		}
		p.definitions[d.Name] = d

		for _, perm := range d.Permissions {
			permissionNames[perm] = true
		}
		if err := p.compilePinSchemas(d); err != nil {
			return err
		}
	}

	var names []string
	for perm := range permissionNames {
		names = append(names, perm)
	}
	permissions, err := capability.ParseSet(names)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, p.name, err)
	}
	p.permissions = permissions

	version, err := p.probeVersion(ctx, instance)
	if err != nil {
		return err
	}

	p.manifest = Manifest{
		Name:        p.name,
		Version:     version,
		ABIVersion:  abiVersion,
		Permissions: permissions.Names(),
		Nodes:       definitions,
	}
	return nil
}

// probeVersion reads the optional get_version export. Packages without one
// carry no version in their manifest.
func (p *Package) probeVersion(ctx context.Context, instance api.Module) (string, error) {
	versionFn := instance.ExportedFunction("get_version")
	if versionFn == nil {
		return "", nil
	}
	raw, err := p.callPacked(ctx, instance, "get_version")
	if err != nil {
		return "", fmt.Errorf("%w: %s: get_version: %v", ErrMalformed, p.name, err)
	}
	version := strings.TrimSpace(string(raw))
	if _, err := semver.NewVersion(version); err != nil {
		return "", fmt.Errorf("%w: %s: invalid version %q: %v", ErrMalformed, p.name, version, err)
	}
	return version, nil
}

func (p *Package) compilePinSchemas(d *node.Definition) error {
	for _, pin := range d.Pins {
		if pin.DataType != node.DataTypeStruct || len(pin.Schema) == 0 {
			continue
		}
		key := d.Name + "/" + pin.Name
		schema, err := jsonschema.CompileString(key, string(pin.Schema))
		if err != nil {
			return fmt.Errorf("%w: %s: node %s pin %s schema: %v", ErrMalformed, p.name, d.Name, pin.Name, err)
		}
		p.schemas[key] = schema
	}
	return nil
}

// validateStructInputs checks supplied Struct-pin values against the schemas
// compiled at load time, before any guest code runs. Absent values are not
// checked; defaults and wiring decide those.
func (p *Package) validateStructInputs(def *node.Definition, in execution.Input) error {
	for _, pin := range def.Pins {
		if pin.PinType != node.PinInput || pin.DataType != node.DataTypeStruct {
			continue
		}
		raw, ok := in.Inputs[pin.Name]
		if !ok {
			continue
		}
		schema, ok := p.PinSchema(in.NodeName, pin.Name)
		if !ok {
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("input %q is not valid JSON: %w", pin.Name, err)
		}
		if err := schema.Validate(value); err != nil {
			return fmt.Errorf("input %q violates the pin schema: %w", pin.Name, err)
		}
	}
	return nil
}

// callPacked calls a no-argument guest export returning a packed i64 buffer
// and reads it out of guest memory, deallocating afterwards.
func (p *Package) callPacked(ctx context.Context, instance api.Module, fnName string) ([]byte, error) {
	fn := instance.ExportedFunction(fnName)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingExport, fnName)
	}
	results, err := fn.Call(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || results[0] == 0 {
		return nil, fmt.Errorf("%s returned null", fnName)
	}
	return p.readPacked(ctx, instance, results[0])
}

// readPacked copies a packed buffer out of guest memory and hands the region
// back to the guest allocator.
func (p *Package) readPacked(ctx context.Context, instance api.Module, packed uint64) ([]byte, error) {
	ptr, length := wireformat.UnpackPtrLen(packed)
	defer func() {
		defer func() { _ = recover() }()
		if deallocate := instance.ExportedFunction("deallocate"); deallocate != nil {
			_, _ = deallocate.Call(ctx, uint64(ptr), uint64(length))
		}
	}()

	data, ok := instance.Memory().Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("failed to read guest memory at %d+%d", ptr, length)
	}
	out := make([]byte, length)
	copy(out, data)
	return out, nil
}

// writeInput copies data into a fresh guest allocation and returns its
// pointer. The caller deallocates.
func (p *Package) writeInput(ctx context.Context, instance api.Module, data []byte) (uint32, error) {
	allocate := instance.ExportedFunction("allocate")
	if allocate == nil {
		return 0, fmt.Errorf("%w: allocate", ErrMissingExport)
	}
	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("guest allocate failed: %w", err)
	}
	if len(results) == 0 || results[0] == 0 {
		return 0, fmt.Errorf("guest allocate returned null")
	}
	ptr := uint32(results[0]) //nolint:gosec
	if !instance.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("failed to write guest memory at %d", ptr)
	}
	return ptr, nil
}

// Invoke runs one node invocation against a fresh instance. The session
// carries the capability surface; its accumulated state is merged with the
// guest-returned result. A guest trap surfaces as *TrapError.
func (p *Package) Invoke(ctx context.Context, session *hostfuncs.Session, in execution.Input) (execution.Result, error) {
	def, ok := p.definitions[in.NodeName]
	if !ok {
		return execution.Result{}, fmt.Errorf("package %s has no node %q", p.name, in.NodeName)
	}
	if err := p.validateStructInputs(def, in); err != nil {
		return execution.Result{}, err
	}

	ctx = hostfuncs.WithSession(ctx, session)

	instance, err := p.createInstance(ctx)
	if err != nil {
		return execution.Result{}, err
	}
	defer func() { _ = instance.Close(ctx) }()

	inputData, err := json.Marshal(in)
	if err != nil {
		return execution.Result{}, fmt.Errorf("failed to marshal execution input: %w", err)
	}
	inputPtr, err := p.writeInput(ctx, instance, inputData)
	if err != nil {
		return execution.Result{}, err
	}
	defer func() {
		defer func() { _ = recover() }()
		if deallocate := instance.ExportedFunction("deallocate"); deallocate != nil {
			_, _ = deallocate.Call(ctx, uint64(inputPtr), uint64(len(inputData)))
		}
	}()

	runFn := instance.ExportedFunction("run")
	if runFn == nil {
		return execution.Result{}, fmt.Errorf("%w: run", ErrMissingExport)
	}
	results, err := runFn.Call(ctx, uint64(inputPtr), uint64(len(inputData)))
	if err != nil {
		return execution.Result{}, &TrapError{NodeName: in.NodeName, Err: err}
	}

	var guest execution.Result
	if len(results) > 0 && results[0] != 0 {
		raw, err := p.readPacked(ctx, instance, results[0])
		if err != nil {
			return execution.Result{}, fmt.Errorf("failed to read run result: %w", err)
		}
		if err := json.Unmarshal(raw, &guest); err != nil {
			return execution.Result{}, fmt.Errorf("invalid run result from node %s: %w", in.NodeName, err)
		}
	}

	return session.Finish(guest), nil
}

package wasm

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhost-dev/flowhost/internal/domain/capability"
	"github.com/flowhost-dev/flowhost/internal/domain/execution"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/wasm/hostfuncs"
	"github.com/flowhost-dev/flowhost/wireformat"
)

// fixtureNodesJSON is the node manifest served by the handcrafted test module.
const fixtureNodesJSON = `[{
	"name": "echo_struct",
	"friendly_name": "Echo Struct",
	"description": "Accepts a structured payload.",
	"category": "Test",
	"abi_version": 1,
	"permissions": ["variables"],
	"pins": [
		{"name": "exec", "pin_type": "Input", "data_type": "Exec"},
		{"name": "payload", "pin_type": "Input", "data_type": "Struct",
			"schema": {"type": "object", "required": ["name"], "properties": {"name": {"type": "string"}}}},
		{"name": "exec_out", "pin_type": "Output", "data_type": "Exec"}
	]
}]`

func uleb128(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb128(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func wasmSection(id byte, body []byte) []byte {
	out := append([]byte{id}, uleb128(uint64(len(body)))...)
	return append(out, body...)
}

func wasmName(s string) []byte {
	return append(uleb128(uint64(len(s))), s...)
}

// buildNodePackageModule hand-assembles the smallest module satisfying the
// guest export contract: get_abi_version reports 1, get_nodes returns a
// packed pointer to nodesJSON in a data segment, run returns the null
// sentinel, and allocate hands out a fixed scratch region.
func buildNodePackageModule(nodesJSON []byte) []byte {
	const dataOffset = 16
	packed := int64(wireformat.PackPtrLen(dataOffset, uint32(len(nodesJSON)))) //nolint:gosec

	types := [][]byte{
		{0x60, 0x00, 0x01, 0x7f},             // () -> i32
		{0x60, 0x00, 0x01, 0x7e},             // () -> i64
		{0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e}, // (i32, i32) -> i64
		{0x60, 0x01, 0x7f, 0x01, 0x7f},       // (i32) -> i32
		{0x60, 0x02, 0x7f, 0x7f, 0x00},       // (i32, i32) -> ()
	}
	funcTypes := []byte{0x00, 0x01, 0x02, 0x02, 0x03, 0x04}
	bodies := [][]byte{
		append(append([]byte{0x00, 0x41}, sleb128(1)...), 0x0b),      // get_abi_version
		append(append([]byte{0x00, 0x42}, sleb128(packed)...), 0x0b), // get_nodes
		{0x00, 0x42, 0x00, 0x0b},                                    // get_node
		{0x00, 0x42, 0x00, 0x0b},                                    // run
		append(append([]byte{0x00, 0x41}, sleb128(4096)...), 0x0b),   // allocate
		{0x00, 0x0b},                                                // deallocate
	}
	exports := []struct {
		name string
		kind byte
		idx  byte
	}{
		{"memory", 0x02, 0},
		{"get_abi_version", 0x00, 0},
		{"get_nodes", 0x00, 1},
		{"get_node", 0x00, 2},
		{"run", 0x00, 3},
		{"allocate", 0x00, 4},
		{"deallocate", 0x00, 5},
	}

	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	typeBody := uleb128(uint64(len(types)))
	for _, t := range types {
		typeBody = append(typeBody, t...)
	}
	mod = append(mod, wasmSection(1, typeBody)...)

	funcBody := append(uleb128(uint64(len(funcTypes))), funcTypes...)
	mod = append(mod, wasmSection(3, funcBody)...)

	mod = append(mod, wasmSection(5, []byte{0x01, 0x00, 0x01})...) // one memory, min 1 page

	exportBody := uleb128(uint64(len(exports)))
	for _, e := range exports {
		exportBody = append(exportBody, wasmName(e.name)...)
		exportBody = append(exportBody, e.kind, e.idx)
	}
	mod = append(mod, wasmSection(7, exportBody)...)

	codeBody := uleb128(uint64(len(bodies)))
	for _, b := range bodies {
		codeBody = append(codeBody, uleb128(uint64(len(b)))...)
		codeBody = append(codeBody, b...)
	}
	mod = append(mod, wasmSection(10, codeBody)...)

	dataBody := []byte{0x01, 0x00, 0x41}
	dataBody = append(dataBody, sleb128(dataOffset)...)
	dataBody = append(dataBody, 0x0b)
	dataBody = append(dataBody, uleb128(uint64(len(nodesJSON)))...)
	dataBody = append(dataBody, nodesJSON...)
	mod = append(mod, wasmSection(11, dataBody)...)

	return mod
}

// buildStaleHTTPImportModule assembles a module importing flowlike_http's
// request with an i32 result, the shape of older SDK bindings.
func buildStaleHTTPImportModule() []byte {
	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	typeBody := []byte{0x01, 0x60, 0x07, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f}
	mod = append(mod, wasmSection(1, typeBody)...)

	importBody := []byte{0x01}
	importBody = append(importBody, wasmName("flowlike_http")...)
	importBody = append(importBody, wasmName("request")...)
	importBody = append(importBody, 0x00, 0x00) // function import, type 0
	mod = append(mod, wasmSection(2, importBody)...)

	return mod
}

func loadFixturePackage(t *testing.T, ctx context.Context) (*Runtime, *Package) {
	t.Helper()
	r, err := NewRuntime(ctx, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(ctx) })

	pkg, err := r.Load(ctx, "fixture", buildNodePackageModule([]byte(fixtureNodesJSON)))
	require.NoError(t, err)
	return r, pkg
}

func TestLoadReadsManifest(t *testing.T) {
	t.Parallel()

	_, pkg := loadFixturePackage(t, context.Background())
	manifest := pkg.Manifest()

	assert.Equal(t, "fixture", manifest.Name)
	assert.Equal(t, uint32(1), manifest.ABIVersion)
	assert.Equal(t, []string{"variables"}, manifest.Permissions)
	require.Len(t, manifest.Nodes, 1)

	def, ok := pkg.Definition("echo_struct")
	require.True(t, ok)
	assert.Len(t, def.Pins, 3)

	_, ok = pkg.PinSchema("echo_struct", "payload")
	assert.True(t, ok)
}

func TestLoadIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, pkg := loadFixturePackage(t, ctx)

	again, err := r.Load(ctx, "fixture", buildNodePackageModule([]byte(fixtureNodesJSON)))
	require.NoError(t, err)
	assert.Same(t, pkg, again)
	assert.Equal(t, pkg.Manifest(), again.Manifest())

	cached, ok := r.Package(pkg.Digest())
	require.True(t, ok)
	assert.Same(t, pkg, cached)
}

func TestInvokeValidatesStructPinInputs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, pkg := loadFixturePackage(t, ctx)
	def, ok := pkg.Definition("echo_struct")
	require.True(t, ok)

	invoke := func(payload string) error {
		in := execution.Input{RunID: "run-1", NodeName: "echo_struct"}
		if payload != "" {
			in.Inputs = map[string]json.RawMessage{"payload": json.RawMessage(payload)}
		}
		session := hostfuncs.NewSession(in, def, capability.NewEnforcer(pkg.Permissions(), nil))
		_, err := pkg.Invoke(ctx, session, in)
		return err
	}

	require.NoError(t, invoke(`{"name": "ada"}`))

	err := invoke(`{"other": 1}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload")

	// Absent struct values are not schema-checked; defaults and wiring decide.
	require.NoError(t, invoke(""))
}

func TestLoadRejectsStaleHTTPImportSignature(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r, err := NewRuntime(ctx, Config{})
	require.NoError(t, err)
	defer r.Close(ctx)

	_, err = r.Load(ctx, "stale-http", buildStaleHTTPImportModule())
	assert.ErrorIs(t, err, ErrMalformed)
}

// Package builtin provides in-process node packages. They implement the same
// engine contract as WASM packages and serve as the reference behavior for
// SDK implementations and as harness targets when no .wasm file is at hand.
package builtin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/flowhost-dev/flowhost/internal/domain/capability"
	"github.com/flowhost-dev/flowhost/internal/domain/execution"
	"github.com/flowhost-dev/flowhost/internal/domain/node"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/wasm/hostfuncs"
	"github.com/flowhost-dev/flowhost/wireformat"
)

// RepeatNodeName is the node name of the builtin repeat package.
const RepeatNodeName = "repeat_text"

// RepeatPackage repeats a text a given number of times. It is the canonical
// exercise of the pin surface: exec in/out, defaulted data inputs, and typed
// outputs.
type RepeatPackage struct {
	digest string
	def    node.Definition
}

// NewRepeatPackage creates the builtin repeat package.
func NewRepeatPackage() *RepeatPackage {
	sum := sha256.Sum256([]byte("builtin:" + RepeatNodeName))
	return &RepeatPackage{
		digest: hex.EncodeToString(sum[:]),
		def: node.Definition{
			Name:         RepeatNodeName,
			FriendlyName: "Repeat Text",
			Description:  "Repeats the input text a configurable number of times.",
			Category:     "Text",
			ABIVersion:   1,
			Pins: []node.Pin{
				{Name: "exec", FriendlyName: "In", PinType: node.PinInput, DataType: node.DataTypeExec},
				{Name: "input_text", FriendlyName: "Text", PinType: node.PinInput,
					DataType: node.DataTypeString, DefaultValue: []byte(`""`)},
				{Name: "multiplier", FriendlyName: "Multiplier", PinType: node.PinInput,
					DataType: node.DataTypeI64, DefaultValue: []byte(`1`)},
				{Name: "exec_out", FriendlyName: "Out", PinType: node.PinOutput, DataType: node.DataTypeExec},
				{Name: "output_text", FriendlyName: "Repeated", PinType: node.PinOutput, DataType: node.DataTypeString},
				{Name: "char_count", FriendlyName: "Characters", PinType: node.PinOutput, DataType: node.DataTypeI64},
			},
		},
	}
}

func (p *RepeatPackage) Name() string   { return "builtin/" + RepeatNodeName }
func (p *RepeatPackage) Digest() string { return p.digest }

func (p *RepeatPackage) Definitions() []node.Definition {
	return []node.Definition{p.def}
}

func (p *RepeatPackage) Definition(name string) (*node.Definition, bool) {
	if name != RepeatNodeName {
		return nil, false
	}
	return &p.def, true
}

// Permissions is empty: the repeat node touches nothing but its own pins.
func (p *RepeatPackage) Permissions() capability.Set {
	return capability.NewSet()
}

// Invoke implements the node. Inputs arrive through the session with pin
// defaults already applied; outputs flow back the same way a guest's
// set_output calls would.
func (p *RepeatPackage) Invoke(_ context.Context, session *hostfuncs.Session, in execution.Input) (execution.Result, error) {
	if in.NodeName != RepeatNodeName {
		return execution.Result{}, fmt.Errorf("unknown node %q", in.NodeName)
	}

	text, err := p.stringInput(session, "input_text")
	if err != nil {
		return session.Finish(execution.Failed(err.Error())), nil
	}
	multiplier, err := p.i64Input(session, "multiplier")
	if err != nil {
		return session.Finish(execution.Failed(err.Error())), nil
	}

	var repeated string
	if multiplier > 0 {
		repeated = strings.Repeat(text, int(multiplier))
	}

	outText, err := wireformat.EncodeValue(repeated, node.DataTypeString)
	if err != nil {
		return session.Finish(execution.Failed(err.Error())), nil
	}
	outCount, err := wireformat.EncodeValue(int64(len([]rune(repeated))), node.DataTypeI64)
	if err != nil {
		return session.Finish(execution.Failed(err.Error())), nil
	}

	session.SetOutput("output_text", outText)
	session.SetOutput("char_count", outCount)
	session.ActivateExec("exec_out")
	return session.Finish(execution.NewResult()), nil
}

func (p *RepeatPackage) stringInput(session *hostfuncs.Session, pin string) (string, error) {
	raw, ok := session.Input(pin)
	if !ok {
		return "", fmt.Errorf("missing input %q", pin)
	}
	v, err := wireformat.DecodeValue(raw, node.DataTypeString)
	if err != nil {
		return "", fmt.Errorf("input %q: %w", pin, err)
	}
	return v.(string), nil
}

func (p *RepeatPackage) i64Input(session *hostfuncs.Session, pin string) (int64, error) {
	raw, ok := session.Input(pin)
	if !ok {
		return 0, fmt.Errorf("missing input %q", pin)
	}
	v, err := wireformat.DecodeValue(raw, node.DataTypeI64)
	if err != nil {
		return 0, fmt.Errorf("input %q: %w", pin, err)
	}
	return v.(int64), nil
}

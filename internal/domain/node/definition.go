// Package node defines the static description of a node type: its identity,
// pin interface and declared permissions. Definitions are extracted from a
// package at load time and are immutable afterwards.
package node

import (
	"fmt"

	"github.com/goccy/go-json"
)

// DataType identifies the value type carried by a data pin. Exec pins carry
// control flow, not values.
type DataType string

const (
	DataTypeExec    DataType = "Exec"
	DataTypeString  DataType = "String"
	DataTypeI64     DataType = "I64"
	DataTypeF64     DataType = "F64"
	DataTypeBool    DataType = "Bool"
	DataTypeBytes   DataType = "Bytes"
	DataTypeDate    DataType = "Date"
	DataTypePathBuf DataType = "PathBuf"
	DataTypeStruct  DataType = "Struct"
	DataTypeGeneric DataType = "Generic"
)

// PinType distinguishes input slots from output slots.
type PinType string

const (
	PinInput  PinType = "Input"
	PinOutput PinType = "Output"
)

// IsValid reports whether dt is one of the supported data types.
func (dt DataType) IsValid() bool {
	switch dt {
	case DataTypeExec, DataTypeString, DataTypeI64, DataTypeF64, DataTypeBool,
		DataTypeBytes, DataTypeDate, DataTypePathBuf, DataTypeStruct, DataTypeGeneric:
		return true
	}
	return false
}

// Pin is one input or output slot on a node. Name is the stable wiring key,
// unique within the node.
type Pin struct {
	Name         string          `json:"name"`
	FriendlyName string          `json:"friendly_name"`
	Description  string          `json:"description"`
	PinType      PinType         `json:"pin_type"`
	DataType     DataType        `json:"data_type"`
	DefaultValue json.RawMessage `json:"default_value,omitempty"`
	ValueType    string          `json:"value_type,omitempty"`
	Schema       json.RawMessage `json:"schema,omitempty"`
}

// Scores is the self-reported quality metadata block a node may carry.
type Scores struct {
	Privacy     uint8 `json:"privacy"`
	Security    uint8 `json:"security"`
	Performance uint8 `json:"performance"`
	Governance  uint8 `json:"governance"`
	Reliability uint8 `json:"reliability"`
	Cost        uint8 `json:"cost"`
}

// Definition is the static description of one node type. Name is the stable
// identity used for wiring and never changes across versions. One package may
// export multiple definitions (a bundle).
type Definition struct {
	Name         string   `json:"name"`
	FriendlyName string   `json:"friendly_name"`
	Description  string   `json:"description"`
	Category     string   `json:"category"`
	Pins         []Pin    `json:"pins"`
	Icon         string   `json:"icon,omitempty"`
	Docs         string   `json:"docs,omitempty"`
	Scores       *Scores  `json:"scores,omitempty"`
	LongRunning  bool     `json:"long_running"`
	Permissions  []string `json:"permissions,omitempty"`
	ABIVersion   uint32   `json:"abi_version"`
}

// Pin returns the pin with the given name, or nil if the node has none.
func (d *Definition) Pin(name string) *Pin {
	for i := range d.Pins {
		if d.Pins[i].Name == name {
			return &d.Pins[i]
		}
	}
	return nil
}

// InputPins returns the input pins in declaration order.
func (d *Definition) InputPins() []Pin {
	return d.pinsOfType(PinInput)
}

// OutputPins returns the output pins in declaration order.
func (d *Definition) OutputPins() []Pin {
	return d.pinsOfType(PinOutput)
}

func (d *Definition) pinsOfType(pt PinType) []Pin {
	var pins []Pin
	for _, p := range d.Pins {
		if p.PinType == pt {
			pins = append(pins, p)
		}
	}
	return pins
}

// IsPure reports whether the node has no Exec input pin. Pure nodes have no
// side effects and are cacheable by the caller.
func (d *Definition) IsPure() bool {
	for _, p := range d.Pins {
		if p.PinType == PinInput && p.DataType == DataTypeExec {
			return false
		}
	}
	return true
}

// Validate checks the structural invariants of a definition: non-empty name,
// unique pin names, and known pin/data types.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("node definition has empty name")
	}

	seen := make(map[string]bool, len(d.Pins))
	for _, p := range d.Pins {
		if p.Name == "" {
			return fmt.Errorf("node %s: pin with empty name", d.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("node %s: duplicate pin name %q", d.Name, p.Name)
		}
		seen[p.Name] = true

		if p.PinType != PinInput && p.PinType != PinOutput {
			return fmt.Errorf("node %s: pin %s has invalid pin_type %q", d.Name, p.Name, p.PinType)
		}
		if !p.DataType.IsValid() {
			return fmt.Errorf("node %s: pin %s has invalid data_type %q", d.Name, p.Name, p.DataType)
		}
	}

	return nil
}

package assigner

import (
	"encoding/json"

	"github.com/rendis/varflow/internal/variables"
	"github.com/rendis/varflow/pkg/schema"
)

// WriteMode selects how the target variable is rewritten.
type WriteMode string

const (
	WriteModeOverwrite WriteMode = "over_write"
	WriteModeAppend    WriteMode = "append"
	WriteModeClear     WriteMode = "clear"
)

// writeModeAliases maps accepted spellings to their canonical mode.
var writeModeAliases = map[string]WriteMode{
	"over_write": WriteModeOverwrite,
	"over-write": WriteModeOverwrite,
	"overwrite":  WriteModeOverwrite,
	"append":     WriteModeAppend,
	"clear":      WriteModeClear,
}

// ParseWriteMode returns the canonical mode for s.
func ParseWriteMode(s string) (WriteMode, error) {
	if m, ok := writeModeAliases[s]; ok {
		return m, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeUnsupportedMode, "unsupported write mode %q", s)
}

// NeedsInput reports whether the mode reads input_variable_selector.
func (m WriteMode) NeedsInput() bool {
	return m != WriteModeClear
}

// NodeData is the assigner's data block.
type NodeData struct {
	Type                     schema.NodeType    `json:"type"`
	Title                    string             `json:"title,omitempty"`
	AssignedVariableSelector variables.Selector `json:"assigned_variable_selector"`
	WriteMode                string             `json:"write_mode"`
	InputVariableSelector    variables.Selector `json:"input_variable_selector,omitempty"`
}

// DecodeData parses a raw data block.
func DecodeData(raw json.RawMessage) (NodeData, error) {
	var d NodeData
	if err := json.Unmarshal(raw, &d); err != nil {
		return NodeData{}, err
	}
	return d, nil
}

// DataSchema constrains the data block's shape. write_mode is left open so
// an unknown mode fails at execution rather than at construction.
var DataSchema = []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "assigned_variable_selector", "write_mode"],
  "properties": {
    "type": { "const": "assigner" },
    "title": { "type": "string" },
    "assigned_variable_selector": {
      "type": "array",
      "minItems": 2,
      "items": { "type": "string", "minLength": 1 }
    },
    "write_mode": { "type": "string", "minLength": 1 },
    "input_variable_selector": {
      "type": "array",
      "items": { "type": "string" }
    }
  }
}`)

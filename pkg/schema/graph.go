package schema

import "encoding/json"

// GraphConfig is the JSON/YAML-serializable graph document.
// The engine consumes it; authoring tools own it.
type GraphConfig struct {
	Nodes                 []NodeConfig   `json:"nodes" yaml:"nodes"`
	Edges                 []EdgeConfig   `json:"edges" yaml:"edges"`
	ConversationVariables []VariableSpec `json:"conversation_variables,omitempty" yaml:"conversation_variables,omitempty"`
	EnvironmentVariables  []VariableSpec `json:"environment_variables,omitempty" yaml:"environment_variables,omitempty"`
}

// NodeConfig is a single node entry: an id plus a type-discriminated data block.
type NodeConfig struct {
	ID   string   `json:"id" yaml:"id"`
	Data NodeData `json:"data" yaml:"data"`
}

// NodeData keeps the raw data block so each node kind decodes its own fields.
// Type and Title are lifted out because every kind has them.
type NodeData struct {
	Type  NodeType        `json:"-" yaml:"-"`
	Title string          `json:"-" yaml:"-"`
	Raw   json.RawMessage `json:"-" yaml:"-"`
}

// NodeType is the discriminator selecting a node implementation.
type NodeType string

const (
	NodeTypeStart    NodeType = "start"
	NodeTypeAssigner NodeType = "assigner"
)

type nodeDataHeader struct {
	Type  NodeType `json:"type"`
	Title string   `json:"title,omitempty"`
}

// UnmarshalJSON keeps the full block in Raw and lifts type/title.
func (d *NodeData) UnmarshalJSON(b []byte) error {
	var h nodeDataHeader
	if err := json.Unmarshal(b, &h); err != nil {
		return err
	}
	d.Type = h.Type
	d.Title = h.Title
	d.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON writes Raw back out, or the header when Raw is empty.
func (d NodeData) MarshalJSON() ([]byte, error) {
	if len(d.Raw) > 0 {
		return d.Raw, nil
	}
	return json.Marshal(nodeDataHeader{Type: d.Type, Title: d.Title})
}

// UnmarshalYAML decodes the block generically and re-encodes it as JSON so
// YAML and JSON graph files share one decoding path.
func (d *NodeData) UnmarshalYAML(unmarshal func(any) error) error {
	var m map[string]any
	if err := unmarshal(&m); err != nil {
		return err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return d.UnmarshalJSON(b)
}

// Map decodes the raw data block into a generic map.
func (d NodeData) Map() (map[string]any, error) {
	out := map[string]any{}
	if len(d.Raw) == 0 {
		out["type"] = string(d.Type)
		return out, nil
	}
	err := json.Unmarshal(d.Raw, &out)
	return out, err
}

// EdgeConfig connects two nodes by id.
type EdgeConfig struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// VariableSpec declares a conversation or environment variable with its default value.
type VariableSpec struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	ValueType   string `json:"value_type" yaml:"value_type"`
	Value       any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// WorkflowType distinguishes chat-style workflows from one-shot ones.
type WorkflowType string

const (
	WorkflowTypeWorkflow WorkflowType = "workflow"
	WorkflowTypeChat     WorkflowType = "chat"
)

// UserFrom tags who initiated a run.
type UserFrom string

const (
	UserFromAccount UserFrom = "account"
	UserFromEndUser UserFrom = "end-user"
)

// InvokeFrom tags where a run was invoked from.
type InvokeFrom string

const (
	InvokeFromServiceAPI InvokeFrom = "service-api"
	InvokeFromWebApp     InvokeFrom = "web-app"
	InvokeFromExplore    InvokeFrom = "explore"
	InvokeFromDebugger   InvokeFrom = "debugger"
)

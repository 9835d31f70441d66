// Package assigner implements the node that copies, appends to, or clears a
// variable already present in the pool, persisting conversation-scoped
// targets through a convvar.Updater.
package assigner

import (
	"context"
	"iter"
	"log/slog"
	"slices"

	"github.com/rendis/varflow/internal/convvar"
	"github.com/rendis/varflow/internal/logging"
	"github.com/rendis/varflow/internal/nodes"
	"github.com/rendis/varflow/internal/variables"
	"github.com/rendis/varflow/pkg/schema"
)

// Option configures an assigner Node.
type Option func(*Node)

// WithStrictTypes rejects overwrites whose source type differs from the target's.
func WithStrictTypes() Option {
	return func(n *Node) { n.strict = true }
}

// WithLogger sets the node's logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// Node is the variable assigner.
type Node struct {
	*nodes.BaseNode
	data    NodeData
	factory convvar.Factory
	strict  bool
	logger  *slog.Logger
}

// New builds an assigner from p. The updater factory is kept but not called
// until a conversation-scoped write commits.
func New(p nodes.Params, opts ...Option) (*Node, error) {
	base, err := nodes.NewBaseNode(p)
	if err != nil {
		return nil, err
	}
	data, err := DecodeData(p.Config.Data.Raw)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid assigner data").
			WithNode(p.Config.ID).WithCause(err)
	}
	n := &Node{
		BaseNode: base,
		data:     data,
		factory:  p.ConvVarUpdaterFactory,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Constructor adapts New for a nodes.Registry.
func Constructor(opts ...Option) nodes.Constructor {
	return func(p nodes.Params) (nodes.Node, error) {
		return New(p, opts...)
	}
}

// Kind is the registry entry for the assigner.
func Kind(opts ...Option) nodes.Kind {
	return nodes.Kind{Type: schema.NodeTypeAssigner, New: Constructor(opts...), DataSchema: DataSchema}
}

// Data returns the decoded data block.
func (n *Node) Data() NodeData { return n.data }

func (n *Node) Run(ctx context.Context) iter.Seq[nodes.Event] {
	return n.Execute(ctx, n.run)
}

func (n *Node) run(ctx context.Context, _ func(nodes.Event) bool) (*nodes.NodeRunResult, error) {
	ctx = logging.WithNodeID(ctx, n.NodeID())
	pool := n.State.VariablePool
	target := n.data.AssignedVariableSelector

	if len(target) != variables.MinSelectorLength || !target.Valid() {
		return nil, n.fail(schema.ErrCodeInvalidSelector, "assigned variable selector %s must be [scope, name]", target)
	}
	original, ok := pool.Get(target)
	if !ok {
		return nil, n.fail(schema.ErrCodeResolution, "target variable not found: %s", target)
	}

	mode, err := ParseWriteMode(n.data.WriteMode)
	if err != nil {
		return nil, n.fail(schema.ErrCodeUnsupportedMode, "unsupported write mode %q", n.data.WriteMode)
	}

	var source *variables.Variable
	if mode.NeedsInput() {
		in, ok := pool.Get(n.data.InputVariableSelector)
		if !ok {
			return nil, n.fail(schema.ErrCodeResolution, "input variable not found: %s", n.data.InputVariableSelector)
		}
		source = &in
	}
	inputs := map[string]any{"value": nil}
	if source != nil {
		inputs["value"] = source.ToObject()
	}

	value, err := n.compute(mode, original, source)
	if err != nil {
		return &nodes.NodeRunResult{Inputs: inputs}, err
	}
	updated := original.WithValue(value)

	var conversationID string
	if target.IsConversation() {
		if n.factory == nil {
			return &nodes.NodeRunResult{Inputs: inputs},
				n.fail(schema.ErrCodeValidation, "conversation variable updater is not configured")
		}
		conversationID = pool.SystemVariables().ConversationID
		if conversationID == "" {
			return &nodes.NodeRunResult{Inputs: inputs},
				n.fail(schema.ErrCodeValidation, "conversation id is not set")
		}
	}

	if err := ctx.Err(); err != nil {
		return &nodes.NodeRunResult{Inputs: inputs},
			schema.NewError(schema.ErrCodeCancelled, err.Error()).WithNode(n.NodeID()).WithCause(err)
	}

	if err := pool.Add(target, updated); err != nil {
		return &nodes.NodeRunResult{Inputs: inputs}, err
	}

	if target.IsConversation() {
		ctx = logging.WithConversationID(ctx, conversationID)
		updater := n.factory()
		if err := updater.Update(ctx, conversationID, updated); err != nil {
			return &nodes.NodeRunResult{Inputs: inputs}, storeError(n.NodeID(), "update", err)
		}
		if err := updater.Flush(ctx); err != nil {
			return &nodes.NodeRunResult{Inputs: inputs}, storeError(n.NodeID(), "flush", err)
		}
	}

	logging.LogWith(ctx, n.logger).Debug("variable assigned",
		slog.String("selector", target.String()),
		slog.String("write_mode", string(mode)))

	return nodes.Succeeded(
		inputs,
		map[string]any{
			"write_mode":                 string(mode),
			"assigned_variable_selector": []string(target),
		},
		map[string]any{"value": updated.ToObject()},
	), nil
}

// compute derives the new value without touching the pool.
func (n *Node) compute(mode WriteMode, target variables.Variable, source *variables.Variable) (any, error) {
	switch mode {
	case WriteModeOverwrite:
		if n.strict && source.ValueType != target.ValueType {
			return nil, n.fail(schema.ErrCodeTypeMismatch,
				"cannot overwrite %s variable with %s value", target.ValueType, source.ValueType)
		}
		return source.Value, nil

	case WriteModeAppend:
		if !target.ValueType.IsArray() {
			return nil, n.fail(schema.ErrCodeAppendOnNonArray,
				"cannot append to %s variable %s", target.ValueType, target.Name)
		}
		return n.appendValue(target, source.Value)

	case WriteModeClear:
		return variables.EmptyValue(target.ValueType), nil
	}
	return nil, n.fail(schema.ErrCodeUnsupportedMode, "unsupported write mode %q", mode)
}

func (n *Node) appendValue(target variables.Variable, item any) (any, error) {
	elem := target.ValueType.ElementType()
	if elem != "" && !elem.Matches(item) {
		coerced, err := variables.Coerce(elem, item)
		if item == nil || err != nil {
			return nil, n.fail(schema.ErrCodeTypeMismatch,
				"cannot append %T to %s variable %s", item, target.ValueType, target.Name)
		}
		item = coerced
	}

	// A permissive overwrite can leave a payload whose Go type differs
	// from the declared value type.
	cur, err := variables.Coerce(target.ValueType, target.Value)
	if err != nil {
		return nil, n.fail(schema.ErrCodeTypeMismatch,
			"variable %s holds %T, not a %s payload", target.Name, target.Value, target.ValueType)
	}
	if elem == "" {
		items, ok := variables.AsSlice(cur)
		if ok {
			return append(slices.Clone(items), item), nil
		}
	}

	switch cur := cur.(type) {
	case []string:
		if s, ok := item.(string); ok {
			return append(slices.Clone(cur), s), nil
		}
	case []float64:
		if f, ok := item.(float64); ok {
			return append(slices.Clone(cur), f), nil
		}
	case []map[string]any:
		if m, ok := item.(map[string]any); ok {
			return append(slices.Clone(cur), m), nil
		}
	}
	return nil, n.fail(schema.ErrCodeTypeMismatch,
		"cannot append %T to %s variable %s", item, target.ValueType, target.Name)
}

func (n *Node) fail(code, format string, args ...any) error {
	return schema.NewErrorf(code, format, args...).WithNode(n.NodeID())
}

func storeError(nodeID, op string, err error) error {
	return schema.NewErrorf(schema.ErrCodeStore, "conversation variable %s failed: %v", op, err).
		WithNode(nodeID).WithCause(err)
}

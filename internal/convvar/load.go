package convvar

import (
	"context"
	"log/slog"

	"github.com/rendis/varflow/internal/variables"
	"github.com/rendis/varflow/pkg/schema"
)

// FromSpecs builds Variables from graph declarations, addressing each as
// [scope, name]. A missing default value becomes the empty value of its type.
func FromSpecs(scope string, specs []schema.VariableSpec) ([]variables.Variable, error) {
	out := make([]variables.Variable, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s variable without a name", scope)
		}
		opts := []variables.Option{
			variables.WithDescription(spec.Description),
			variables.WithSelector(variables.NewSelector(scope, spec.Name)),
		}
		if spec.ID != "" {
			opts = append(opts, variables.WithID(spec.ID))
		}
		v, err := variables.New(spec.Name, variables.ValueType(spec.ValueType), spec.Value, opts...)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s variable %q: %v", scope, spec.Name, err).WithCause(err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Load returns the conversation variables for a run: every declared
// variable, with its persisted value when one exists for conversationID and
// its type still matches the declaration. Persisted rows no longer declared
// are ignored.
func Load(ctx context.Context, repo Repository, conversationID string, declared []schema.VariableSpec, logger *slog.Logger) ([]variables.Variable, error) {
	defaults, err := FromSpecs(variables.ScopeConversation, declared)
	if err != nil {
		return nil, err
	}
	if conversationID == "" || repo == nil {
		return defaults, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	rows, err := repo.ListConversationVariables(ctx, conversationID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load conversation %s", conversationID).WithCause(err)
	}
	persisted := make(map[string]variables.Variable, len(rows))
	for _, rec := range rows {
		v, err := FromRecord(rec)
		if err != nil {
			logger.WarnContext(ctx, "skipping unreadable conversation variable",
				slog.String("name", rec.Name), slog.String("error", err.Error()))
			continue
		}
		persisted[v.Name] = v
	}

	out := make([]variables.Variable, 0, len(defaults))
	for _, d := range defaults {
		p, ok := persisted[d.Name]
		if !ok {
			out = append(out, d)
			continue
		}
		if p.ValueType != d.ValueType {
			logger.WarnContext(ctx, "persisted conversation variable type changed, using default",
				slog.String("name", d.Name),
				slog.String("persisted", string(p.ValueType)),
				slog.String("declared", string(d.ValueType)))
			out = append(out, d)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

package gqlbind

import "context"

// ExecOption supplies one optional input of a Run execution.
type ExecOption func(*ExecutionParams)

// WithRootObject sets the root value handed to top-level resolvers.
func WithRootObject(root map[string]any) ExecOption {
	return func(p *ExecutionParams) {
		p.RootObject = root
	}
}

// WithVariables sets the values for the variables the document declares.
func WithVariables(variables map[string]any) ExecOption {
	return func(p *ExecutionParams) {
		p.VariableValues = variables
	}
}

// WithOperationName picks which operation of a multi-operation document
// runs.
func WithOperationName(name string) ExecOption {
	return func(p *ExecutionParams) {
		p.OperationName = name
	}
}

// ExecParams assembles the ExecutionParams that a Run call with the same
// arguments would execute. Options left out stay at the engine's absent
// markers; options supplied are stored as given, without copying or
// normalization.
func ExecParams(
	ctx context.Context,
	schema Schema,
	document string,
	opts ...ExecOption,
) ExecutionParams {
	p := ExecutionParams{
		Schema:        schema,
		RequestString: document,
		Context:       ctx,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Run is the convenience form of Do: required inputs positional, optional
// inputs as options.
func Run(
	ctx context.Context,
	schema Schema,
	document string,
	opts ...ExecOption,
) *Result {
	return Do(ExecParams(ctx, schema, document, opts...))
}

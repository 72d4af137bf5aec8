package gqlbind

import (
	"github.com/graphql-go/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/lmenard/gqlbind/internal/schemabuilder"
)

// ScalarFunctions implements an SDL-declared custom scalar: how internal
// values serialize into results, and how variable values and document
// literals parse back. Any nil function falls back to the identity behavior
// used for unconfigured scalars.
type ScalarFunctions = schemabuilder.ScalarFunctions

// SchemaOption attaches execution hooks to a schema under construction.
type SchemaOption func(*schemabuilder.Options)

// WithResolver attaches fn to one field, addressed as "Type.field".
func WithResolver(field string, fn FieldResolver) SchemaOption {
	return func(o *schemabuilder.Options) {
		if o.Resolvers == nil {
			o.Resolvers = make(map[string]graphql.FieldResolveFn)
		}
		o.Resolvers[field] = fn
	}
}

// WithSubscriber attaches the event source for one subscription field,
// addressed as "Type.field". fn must return a receive channel of events
// (chan interface{}); the field's resolver, if any, maps each event to the
// field value.
func WithSubscriber(field string, fn FieldResolver) SchemaOption {
	return func(o *schemabuilder.Options) {
		if o.Subscribers == nil {
			o.Subscribers = make(map[string]graphql.FieldResolveFn)
		}
		o.Subscribers[field] = fn
	}
}

// WithScalar supplies the implementation of an SDL-declared scalar.
func WithScalar(name string, fns ScalarFunctions) SchemaOption {
	return func(o *schemabuilder.Options) {
		if o.Scalars == nil {
			o.Scalars = make(map[string]schemabuilder.ScalarFunctions)
		}
		o.Scalars[name] = fns
	}
}

// WithTypeResolver sets how the named interface or union type resolves the
// concrete object type of a value.
func WithTypeResolver(typeName string, fn ResolveTypeFn) SchemaOption {
	return func(o *schemabuilder.Options) {
		if o.TypeResolvers == nil {
			o.TypeResolvers = make(map[string]graphql.ResolveTypeFn)
		}
		o.TypeResolvers[typeName] = fn
	}
}

// WithDefaultResolver replaces the engine's default field resolution
// strategy for every field that has no explicit resolver. The engine binds
// resolvers at construction time, so this is a schema option rather than an
// execution option.
func WithDefaultResolver(fn FieldResolver) SchemaOption {
	return func(o *schemabuilder.Options) {
		o.DefaultResolver = fn
	}
}

// BuildSchema compiles SDL text into an executable Schema.
//
// The document is parsed and validated by gqlparser, assembled into the
// engine's SchemaConfig, and validated once more by graphql.NewSchema.
// Errors from both libraries pass through untranslated; BuildSchema performs
// no validation of its own.
func BuildSchema(document string, opts ...SchemaOption) (Schema, error) {
	sch, err := gqlparser.LoadSchema(&ast.Source{
		Name:  "schema.graphql",
		Input: document,
	})
	if err != nil {
		return Schema{}, err
	}
	var o schemabuilder.Options
	for _, opt := range opts {
		opt(&o)
	}
	cfg, err := schemabuilder.Build(sch, o)
	if err != nil {
		return Schema{}, err
	}
	return graphql.NewSchema(cfg)
}

// MustBuildSchema is BuildSchema, panicking on error. For schemas compiled
// at program start from trusted text.
func MustBuildSchema(document string, opts ...SchemaOption) Schema {
	schema, err := BuildSchema(document, opts...)
	if err != nil {
		panic(err)
	}
	return schema
}

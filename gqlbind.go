// Package gqlbind provides typed bindings over the
// github.com/graphql-go/graphql execution engine.
//
// The package re-exports the engine's execution-facing types as aliases, so
// values cross the boundary without conversion, and keeps every operation a
// pure delegation: parsing, validation, execution and error formatting all
// happen inside the engine. What this package adds is assembly. BuildSchema
// compiles SDL text into an executable Schema, Do/Run/Subscribe collect
// execution inputs into ExecutionParams and forward them, package handler
// serves a schema over HTTP and websockets, and DecodeData unpacks result
// data into tagged Go structs.
package gqlbind

import (
	"context"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/location"
	"github.com/graphql-go/graphql/language/source"
)

// Engine handles. Each name is an alias, not a wrapper: a value produced by
// this package is the engine's value, usable with the engine's own API and
// vice versa.
type (
	// Schema is a compiled GraphQL type system. Build it with BuildSchema
	// and treat it as opaque.
	Schema = graphql.Schema

	// Result is the outcome of one execution: Data, plus Errors when any
	// part of the request failed. Data and Errors may be populated together.
	Result = graphql.Result

	// ResolveParams carries a resolver's inputs: the parent value (Source),
	// the coerced arguments (Args), the caller's Context, and per-field Info.
	ResolveParams = graphql.ResolveParams

	// ResolveInfo describes where in the execution a resolver was invoked.
	ResolveInfo = graphql.ResolveInfo

	// FieldResolver computes the value of a single field.
	FieldResolver = graphql.FieldResolveFn

	// ResolveTypeParams and ResolveTypeFn select the concrete object type
	// for an interface or union value. Object is the engine's object type,
	// what a ResolveTypeFn returns; look concrete types up through
	// ResolveInfo.Schema.TypeMap().
	ResolveTypeParams = graphql.ResolveTypeParams
	ResolveTypeFn     = graphql.ResolveTypeFn
	Object            = graphql.Object

	// ValidationContext is the engine's validation state, exposed as an
	// opaque handle for custom validation rules.
	ValidationContext = graphql.ValidationContext
)

// Error carries everything the engine records about a failure: the message,
// the AST nodes and source positions it points at, and the wrapped original
// error, if any. FormattedError is the shape errors take inside
// Result.Errors.
type (
	Error          = gqlerrors.Error
	FormattedError = gqlerrors.FormattedError
)

// Source text and positions, as the engine tracks them.
type (
	// Source is a named document body.
	Source = source.Source

	// SourceLocation is a 1-based line/column position inside a Source.
	SourceLocation = location.SourceLocation
)

// AST handles. Opaque; they exist so that errors can reference the nodes
// they blame without this package owning any syntax.
type (
	Node     = ast.Node
	Document = ast.Document
)

// ExecutionParams collects the inputs of a single execution. It mirrors the
// engine's graphql.Params field for field; nothing is added or renamed.
//
// Schema and RequestString are required. The remaining fields are optional,
// and their zero values are exactly the engine's "not supplied" markers: a
// nil RootObject, a nil VariableValues, an empty OperationName and a nil
// Context each make the engine apply its own default. A non-nil empty map
// stays distinguishable from an absent one all the way down.
type ExecutionParams struct {
	Schema         Schema
	RequestString  string
	RootObject     map[string]any
	VariableValues map[string]any
	OperationName  string
	Context        context.Context
}

// toParams copies fields one to one. No defaulting happens here; absent
// markers must reach the engine untouched.
func (p ExecutionParams) toParams() graphql.Params {
	return graphql.Params{
		Schema:         p.Schema,
		RequestString:  p.RequestString,
		RootObject:     p.RootObject,
		VariableValues: p.VariableValues,
		OperationName:  p.OperationName,
		Context:        p.Context,
	}
}

// Do executes one GraphQL request. It is a direct delegation to graphql.Do:
// the call is synchronous and the returned result is never nil. Malformed
// documents, validation failures and resolver errors all come back inside
// Result.Errors, formatted by the engine.
func Do(p ExecutionParams) *Result {
	return graphql.Do(p.toParams())
}

// Subscribe starts a subscription operation and returns the engine's event
// stream, one Result per event. The engine closes the channel when the
// source channel ends or p.Context is canceled. Queries and mutations
// belong in Do.
func Subscribe(p ExecutionParams) <-chan *Result {
	return graphql.Subscribe(p.toParams())
}

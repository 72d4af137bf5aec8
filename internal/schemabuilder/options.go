package schemabuilder

import "github.com/graphql-go/graphql"

// Options carries the execution hooks attached while a schema is assembled.
// The SDL declares shapes only; everything runnable arrives here.
type Options struct {
	// Resolvers maps "Type.field" to the resolver executed for that field.
	Resolvers map[string]graphql.FieldResolveFn

	// Subscribers maps "Type.field" to the function producing the event
	// stream for a subscription field. The function must return a
	// chan interface{}, the engine's subscription contract.
	Subscribers map[string]graphql.FieldResolveFn

	// Scalars maps an SDL-declared scalar name to its implementation.
	// Scalars left unconfigured serialize and parse as identity.
	Scalars map[string]ScalarFunctions

	// TypeResolvers maps an interface or union name to the function
	// selecting the concrete object type of a value. Abstract types left
	// unconfigured fall back to the __typename key of map sources.
	TypeResolvers map[string]graphql.ResolveTypeFn

	// DefaultResolver, when set, replaces the engine's default resolution
	// strategy for every field without an explicit resolver.
	DefaultResolver graphql.FieldResolveFn
}

// ScalarFunctions implements a custom scalar.
type ScalarFunctions struct {
	// Serialize converts an internal value into its response form.
	Serialize graphql.SerializeFn
	// ParseValue converts a variable value into the internal form.
	ParseValue graphql.ParseValueFn
	// ParseLiteral converts an inline document literal into the internal
	// form.
	ParseLiteral graphql.ParseLiteralFn
}

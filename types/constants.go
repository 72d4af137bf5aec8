package types

// Struct tag and field-name conventions shared by the response decoding
// packages.
const (
	// GraphQLTag is the struct tag name used to map a Go field to a
	// GraphQL response key, including alias and fragment forms.
	GraphQLTag = "graphql"

	// ScalarTag is the struct tag name used to mark a field as a scalar
	// value that should be decoded atomically instead of being walked
	// field by field.
	ScalarTag = "scalar"

	// TypenameField is the GraphQL introspection field used for type
	// discrimination in unions and interfaces.
	TypenameField = "__typename"

	// FragmentPrefix marks a tag value as an inline fragment.
	FragmentPrefix = "..."
)

package gqlbind

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lmenard/gqlbind/pkg/jsonutil"
)

// DecodeData decodes the data portion of an execution result into v, which
// must be a pointer. Decoding follows GraphQL response conventions rather
// than plain JSON: `graphql:"..."` tags carry field names and aliases,
// inline fragment fields (`graphql:"... on TypeName"`) populate only when
// they match the object's __typename, and `scalar:"true"` fields decode
// atomically.
//
// Errors already present in res are not consulted; with partial data, the
// fields that did resolve still decode.
func DecodeData(res *Result, v any) error {
	if res == nil {
		return errors.New("cannot decode nil result")
	}
	data, err := json.Marshal(res.Data)
	if err != nil {
		return fmt.Errorf("re-encoding result data: %w", err)
	}
	return jsonutil.UnmarshalGraphQL(data, v)
}

// UnmarshalGraphQL parses the JSON-encoded GraphQL response data and stores
// the result in the value pointed to by v.
// This function is re-exported from the internal package
func UnmarshalGraphQL(data []byte, v any) error {
	return jsonutil.UnmarshalGraphQL(data, v)
}

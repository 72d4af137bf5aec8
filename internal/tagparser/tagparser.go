// Package tagparser interprets `graphql:"..."` struct tag values so response
// data can be matched against tagged Go structs.
package tagparser

import (
	"strings"

	"github.com/lmenard/gqlbind/types"
)

// Tag is the decoded form of a graphql struct tag value.
//
// Tags written for hand-built query documents may carry an argument list in
// parentheses; response keys never include arguments, so parsing discards
// them.
type Tag struct {
	// FieldName is the GraphQL field name.
	FieldName string
	// Alias is the name before the colon, if any.
	Alias string
	// IsFragment reports an inline fragment ("..." or "... on TypeName").
	IsFragment bool
	// TypeName is the type condition of an inline fragment.
	TypeName string
}

// ResponseKey returns the key under which the field appears in response
// data: the alias when one is declared, the field name otherwise.
func (t Tag) ResponseKey() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.FieldName
}

// Parse decodes a graphql struct tag value.
//
//	"name"                 -> {FieldName: "name"}
//	"height(unit: METER)"  -> {FieldName: "height"}
//	"node1: node(id: $id)" -> {FieldName: "node", Alias: "node1"}
//	"... on Droid"         -> {IsFragment: true, TypeName: "Droid"}
//
// Malformed values parse best-effort; there is no tag syntax error.
func Parse(value string) Tag {
	value = strings.TrimSpace(value)

	var tag Tag
	if value == "" {
		return tag
	}
	if value == "-" {
		tag.FieldName = "-"
		return tag
	}

	if rest, ok := strings.CutPrefix(value, types.FragmentPrefix); ok {
		tag.IsFragment = true
		rest = strings.TrimSpace(rest)
		if cond, ok := strings.CutPrefix(rest, "on "); ok {
			tag.TypeName = strings.TrimSpace(cond)
		}
		return tag
	}

	// Strip the argument list. Response keys never carry arguments.
	if open := strings.Index(value, "("); open != -1 {
		value = strings.TrimSpace(value[:open])
	}

	if alias, field, ok := strings.Cut(value, ":"); ok {
		tag.Alias = strings.TrimSpace(alias)
		tag.FieldName = strings.TrimSpace(field)
	} else {
		tag.FieldName = value
	}
	return tag
}

// Package schemabuilder assembles the engine's schema configuration from a
// gqlparser-validated SDL document.
//
// The builder converts kind by kind and validates nothing itself: gqlparser
// has already validated the SDL, and graphql.NewSchema validates the
// assembled configuration. Reference cycles between types are broken by
// deferring field maps through the engine's thunk types, which run inside
// graphql.NewSchema once every named type is registered.
package schemabuilder

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/graphql-go/graphql"
	gast "github.com/graphql-go/graphql/language/ast"
	"github.com/vektah/gqlparser/v2/ast"
)

// Build converts a validated SDL schema into the engine's SchemaConfig.
// The only errors Build reports itself are options that reference names the
// SDL does not declare; everything structural is left to graphql.NewSchema.
func Build(doc *ast.Schema, opts Options) (graphql.SchemaConfig, error) {
	b := &builder{
		doc:  doc,
		opts: opts,
		types: map[string]graphql.Type{
			"Int":     graphql.Int,
			"Float":   graphql.Float,
			"String":  graphql.String,
			"Boolean": graphql.Boolean,
			"ID":      graphql.ID,
		},
	}
	if err := b.checkOptions(); err != nil {
		return graphql.SchemaConfig{}, err
	}

	names := make([]string, 0, len(doc.Types))
	for name := range doc.Types {
		names = append(names, name)
	}
	sort.Strings(names)

	// Scalars and enums reference nothing. Field-bearing kinds defer their
	// field maps through thunks that run inside graphql.NewSchema, once
	// every name is registered. Unions hold concrete member slices, so they
	// come after objects.
	for _, phase := range []ast.DefinitionKind{
		ast.Scalar,
		ast.Enum,
		ast.InputObject,
		ast.Interface,
		ast.Object,
		ast.Union,
	} {
		for _, name := range names {
			def := doc.Types[name]
			if def.BuiltIn || def.Kind != phase {
				continue
			}
			b.types[name] = b.buildDefinition(def)
		}
	}

	cfg := graphql.SchemaConfig{}
	if doc.Query != nil {
		cfg.Query, _ = b.types[doc.Query.Name].(*graphql.Object)
	}
	if doc.Mutation != nil {
		cfg.Mutation, _ = b.types[doc.Mutation.Name].(*graphql.Object)
	}
	if doc.Subscription != nil {
		cfg.Subscription, _ = b.types[doc.Subscription.Name].(*graphql.Object)
	}

	// Listing every declared type keeps types that no field references
	// reachable through introspection.
	for _, name := range names {
		def := doc.Types[name]
		if def.BuiltIn {
			continue
		}
		if typ := b.types[name]; typ != nil {
			cfg.Types = append(cfg.Types, typ)
		}
	}

	directiveNames := make([]string, 0, len(doc.Directives))
	for name := range doc.Directives {
		directiveNames = append(directiveNames, name)
	}
	sort.Strings(directiveNames)
	var custom []*graphql.Directive
	for _, name := range directiveNames {
		def := doc.Directives[name]
		if isBuiltinDirective(def) {
			continue
		}
		custom = append(custom, b.directive(def))
	}
	if len(custom) > 0 {
		// Setting Directives replaces the engine's default set, so the
		// default three ride along with the declared ones.
		cfg.Directives = append([]*graphql.Directive{
			graphql.IncludeDirective,
			graphql.SkipDirective,
			graphql.DeprecatedDirective,
		}, custom...)
	}

	return cfg, nil
}

type builder struct {
	doc  *ast.Schema
	opts Options

	// types holds every named type built so far, preseeded with the engine's
	// builtin scalar singletons. Thunks read it at graphql.NewSchema time,
	// when it is complete.
	types map[string]graphql.Type
}

func (b *builder) buildDefinition(def *ast.Definition) graphql.Type {
	switch def.Kind {
	case ast.Scalar:
		return b.scalar(def)
	case ast.Enum:
		return b.enum(def)
	case ast.InputObject:
		return b.inputObject(def)
	case ast.Interface:
		return b.iface(def)
	case ast.Object:
		return b.object(def)
	case ast.Union:
		return b.union(def)
	}
	return nil
}

func (b *builder) scalar(def *ast.Definition) *graphql.Scalar {
	fns := b.opts.Scalars[def.Name]
	if fns.Serialize == nil {
		fns.Serialize = identityValue
	}
	if fns.ParseValue == nil {
		fns.ParseValue = identityValue
	}
	if fns.ParseLiteral == nil {
		fns.ParseLiteral = literalValue
	}
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:         def.Name,
		Description:  def.Description,
		Serialize:    fns.Serialize,
		ParseValue:   fns.ParseValue,
		ParseLiteral: fns.ParseLiteral,
	})
}

func (b *builder) enum(def *ast.Definition) *graphql.Enum {
	values := make(graphql.EnumValueConfigMap, len(def.EnumValues))
	for _, v := range def.EnumValues {
		values[v.Name] = &graphql.EnumValueConfig{
			// SDL declares no internal values, so the name doubles as the
			// value on both the resolver and the response side.
			Value:             v.Name,
			Description:       v.Description,
			DeprecationReason: deprecationReason(v.Directives),
		}
	}
	return graphql.NewEnum(graphql.EnumConfig{
		Name:        def.Name,
		Description: def.Description,
		Values:      values,
	})
}

func (b *builder) inputObject(def *ast.Definition) *graphql.InputObject {
	return graphql.NewInputObject(graphql.InputObjectConfig{
		Name:        def.Name,
		Description: def.Description,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := make(graphql.InputObjectConfigFieldMap, len(def.Fields))
			for _, f := range def.Fields {
				fields[f.Name] = &graphql.InputObjectFieldConfig{
					Type:         b.typeRef(f.Type),
					Description:  f.Description,
					DefaultValue: constValue(f.DefaultValue),
				}
			}
			return fields
		}),
	})
}

func (b *builder) iface(def *ast.Definition) *graphql.Interface {
	return graphql.NewInterface(graphql.InterfaceConfig{
		Name:        def.Name,
		Description: def.Description,
		Fields:      b.fieldsThunk(def),
		ResolveType: b.resolveType(def.Name),
	})
}

func (b *builder) object(def *ast.Definition) *graphql.Object {
	cfg := graphql.ObjectConfig{
		Name:        def.Name,
		Description: def.Description,
		Fields:      b.fieldsThunk(def),
	}
	if len(def.Interfaces) > 0 {
		names := append([]string(nil), def.Interfaces...)
		cfg.Interfaces = graphql.InterfacesThunk(func() []*graphql.Interface {
			ifaces := make([]*graphql.Interface, 0, len(names))
			for _, name := range names {
				iface, _ := b.types[name].(*graphql.Interface)
				ifaces = append(ifaces, iface)
			}
			return ifaces
		})
	}
	return graphql.NewObject(cfg)
}

func (b *builder) union(def *ast.Definition) *graphql.Union {
	members := make([]*graphql.Object, 0, len(def.Types))
	for _, name := range def.Types {
		member, _ := b.types[name].(*graphql.Object)
		members = append(members, member)
	}
	return graphql.NewUnion(graphql.UnionConfig{
		Name:        def.Name,
		Description: def.Description,
		Types:       members,
		ResolveType: b.resolveType(def.Name),
	})
}

func (b *builder) directive(def *ast.DirectiveDefinition) *graphql.Directive {
	locations := make([]string, 0, len(def.Locations))
	for _, loc := range def.Locations {
		locations = append(locations, string(loc))
	}
	return graphql.NewDirective(graphql.DirectiveConfig{
		Name:        def.Name,
		Description: def.Description,
		Locations:   locations,
		Args:        b.arguments(def.Arguments),
	})
}

func (b *builder) fieldsThunk(def *ast.Definition) graphql.FieldsThunk {
	typeName := def.Name
	defs := def.Fields
	return func() graphql.Fields {
		fields := make(graphql.Fields, len(defs))
		for _, f := range defs {
			// gqlparser injects __schema/__type/__typename meta fields
			// during load; the engine owns those.
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			fields[f.Name] = b.field(typeName, f)
		}
		return fields
	}
}

func (b *builder) field(typeName string, def *ast.FieldDefinition) *graphql.Field {
	key := typeName + "." + def.Name
	field := &graphql.Field{
		Name:              def.Name,
		Type:              b.typeRef(def.Type),
		Args:              b.arguments(def.Arguments),
		Description:       def.Description,
		DeprecationReason: deprecationReason(def.Directives),
	}
	if fn, ok := b.opts.Resolvers[key]; ok {
		field.Resolve = fn
	}
	if fn, ok := b.opts.Subscribers[key]; ok {
		field.Subscribe = fn
		if field.Resolve == nil {
			field.Resolve = passthroughResolver
		}
	}
	if field.Resolve == nil && b.opts.DefaultResolver != nil {
		field.Resolve = b.opts.DefaultResolver
	}
	return field
}

func (b *builder) arguments(defs ast.ArgumentDefinitionList) graphql.FieldConfigArgument {
	if len(defs) == 0 {
		return nil
	}
	args := make(graphql.FieldConfigArgument, len(defs))
	for _, a := range defs {
		args[a.Name] = &graphql.ArgumentConfig{
			Type:         b.typeRef(a.Type),
			Description:  a.Description,
			DefaultValue: constValue(a.DefaultValue),
		}
	}
	return args
}

// typeRef resolves an SDL type expression against the registry. A name the
// registry does not hold resolves to nil, which graphql.NewSchema rejects
// with its own diagnostics.
func (b *builder) typeRef(t *ast.Type) graphql.Type {
	var out graphql.Type
	if t.NamedType != "" {
		out = b.types[t.NamedType]
	} else if elem := b.typeRef(t.Elem); elem != nil {
		out = graphql.NewList(elem)
	}
	if t.NonNull && out != nil {
		out = graphql.NewNonNull(out)
	}
	return out
}

func (b *builder) resolveType(name string) graphql.ResolveTypeFn {
	if fn, ok := b.opts.TypeResolvers[name]; ok {
		return fn
	}
	return resolveTypeByTypename
}

// resolveTypeByTypename is the fallback for abstract types with no
// configured resolver: a map source may name its concrete type under
// __typename, the same convention the response side uses to select inline
// fragments.
func resolveTypeByTypename(p graphql.ResolveTypeParams) *graphql.Object {
	m, ok := p.Value.(map[string]any)
	if !ok {
		return nil
	}
	name, _ := m["__typename"].(string)
	if name == "" {
		return nil
	}
	obj, _ := p.Info.Schema.TypeMap()[name].(*graphql.Object)
	return obj
}

// passthroughResolver returns the subscription event itself as the field
// value. Subscribe produces the stream; without an explicit resolver each
// event is already the payload.
func passthroughResolver(p graphql.ResolveParams) (any, error) {
	return p.Source, nil
}

func identityValue(value any) any {
	return value
}

func literalValue(valueAST gast.Value) any {
	return valueAST.GetValue()
}

// constValue converts an SDL literal into its Go value. SDL defaults cannot
// reference variables, so conversion cannot fail in practice; a conversion
// failure drops the default.
func constValue(v *ast.Value) any {
	if v == nil {
		return nil
	}
	val, err := v.Value(nil)
	if err != nil {
		return nil
	}
	return val
}

func deprecationReason(directives ast.DirectiveList) string {
	d := directives.ForName("deprecated")
	if d == nil {
		return ""
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw
	}
	return "No longer supported"
}

func isBuiltinDirective(def *ast.DirectiveDefinition) bool {
	return def.Position != nil && def.Position.Src != nil && def.Position.Src.BuiltIn
}

func (b *builder) checkOptions() error {
	for _, key := range sortedKeys(b.opts.Resolvers) {
		if err := b.checkField(key); err != nil {
			return fmt.Errorf("resolver %q: %w", key, err)
		}
	}
	for _, key := range sortedKeys(b.opts.Subscribers) {
		if err := b.checkField(key); err != nil {
			return fmt.Errorf("subscriber %q: %w", key, err)
		}
	}
	for _, name := range sortedKeys(b.opts.Scalars) {
		def := b.doc.Types[name]
		if def == nil || def.Kind != ast.Scalar {
			return fmt.Errorf("scalar %q: not declared in the schema", name)
		}
		if def.BuiltIn {
			return fmt.Errorf("scalar %q: built-in scalars cannot be overridden", name)
		}
	}
	for _, name := range sortedKeys(b.opts.TypeResolvers) {
		def := b.doc.Types[name]
		if def == nil || (def.Kind != ast.Interface && def.Kind != ast.Union) {
			return fmt.Errorf("type resolver %q: not an interface or union", name)
		}
	}
	return nil
}

func (b *builder) checkField(key string) error {
	typeName, fieldName, ok := strings.Cut(key, ".")
	if !ok {
		return errors.New(`key must have the form "Type.field"`)
	}
	def := b.doc.Types[typeName]
	if def == nil || (def.Kind != ast.Object && def.Kind != ast.Interface) {
		return fmt.Errorf("type %q not found", typeName)
	}
	if def.Fields.ForName(fieldName) == nil {
		return fmt.Errorf("field %q not found on %s", fieldName, typeName)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

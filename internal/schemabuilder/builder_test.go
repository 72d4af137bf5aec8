package schemabuilder_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	gast "github.com/graphql-go/graphql/language/ast"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/lmenard/gqlbind/internal/schemabuilder"
)

func loadSchema(t *testing.T, sdl string) *ast.Schema {
	t.Helper()
	return gqlparser.MustLoadSchema(&ast.Source{Name: "test.graphql", Input: sdl})
}

func buildAndCompile(t *testing.T, sdl string, opts schemabuilder.Options) graphql.Schema {
	t.Helper()
	cfg, err := schemabuilder.Build(loadSchema(t, sdl), opts)
	require.NoError(t, err)
	schema, err := graphql.NewSchema(cfg)
	require.NoError(t, err)
	return schema
}

func exec(t *testing.T, schema graphql.Schema, query string, vars map[string]any) map[string]any {
	t.Helper()
	res := graphql.Do(graphql.Params{
		Schema:         schema,
		RequestString:  query,
		VariableValues: vars,
		Context:        context.Background(),
	})
	require.Empty(t, res.Errors)
	data, ok := res.Data.(map[string]any)
	require.True(t, ok, "data is %T", res.Data)
	return data
}

func TestBuild_QueryExecution(t *testing.T) {
	schema := buildAndCompile(t, `
		type Query {
			hello: String!
		}
	`, schemabuilder.Options{
		Resolvers: map[string]graphql.FieldResolveFn{
			"Query.hello": func(p graphql.ResolveParams) (any, error) {
				return "world", nil
			},
		},
	})

	got := exec(t, schema, `{ hello }`, nil)

	want := map[string]any{"hello": "world"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_NestedObjectsAndArguments(t *testing.T) {
	schema := buildAndCompile(t, `
		type Query {
			user(id: ID!): User
		}
		type User {
			id: ID!
			name: String!
		}
	`, schemabuilder.Options{
		Resolvers: map[string]graphql.FieldResolveFn{
			"Query.user": func(p graphql.ResolveParams) (any, error) {
				return map[string]any{
					"id":   p.Args["id"],
					"name": "Ada",
				}, nil
			},
		},
	})

	got := exec(t, schema, `{ user(id: "u1") { id name } }`, nil)

	want := map[string]any{
		"user": map[string]any{"id": "u1", "name": "Ada"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_ArgumentDefault(t *testing.T) {
	schema := buildAndCompile(t, `
		type Query {
			greet(name: String = "world"): String!
		}
	`, schemabuilder.Options{
		Resolvers: map[string]graphql.FieldResolveFn{
			"Query.greet": func(p graphql.ResolveParams) (any, error) {
				return "hello " + p.Args["name"].(string), nil
			},
		},
	})

	got := exec(t, schema, `{ greet }`, nil)
	require.Equal(t, "hello world", got["greet"])

	got = exec(t, schema, `{ greet(name: "Ada") }`, nil)
	require.Equal(t, "hello Ada", got["greet"])
}

func TestBuild_CyclicTypeReferences(t *testing.T) {
	author := map[string]any{"name": "Ada"}
	post := map[string]any{"title": "On Engines"}
	post["author"] = author
	author["posts"] = []any{post}

	schema := buildAndCompile(t, `
		type Query {
			author: Author
		}
		type Author {
			name: String!
			posts: [Post!]
		}
		type Post {
			title: String!
			author: Author
		}
	`, schemabuilder.Options{
		Resolvers: map[string]graphql.FieldResolveFn{
			"Query.author": func(p graphql.ResolveParams) (any, error) {
				return author, nil
			},
		},
	})

	got := exec(t, schema, `{ author { name posts { title author { name } } } }`, nil)

	want := map[string]any{
		"author": map[string]any{
			"name": "Ada",
			"posts": []any{
				map[string]any{
					"title":  "On Engines",
					"author": map[string]any{"name": "Ada"},
				},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_ListWrapping(t *testing.T) {
	schema := buildAndCompile(t, `
		type Query {
			names: [String!]!
		}
	`, schemabuilder.Options{
		Resolvers: map[string]graphql.FieldResolveFn{
			"Query.names": func(p graphql.ResolveParams) (any, error) {
				return []string{"alpha", "beta"}, nil
			},
		},
	})

	got := exec(t, schema, `{ names }`, nil)

	want := map[string]any{"names": []any{"alpha", "beta"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_EnumRoundTrip(t *testing.T) {
	schema := buildAndCompile(t, `
		type Query {
			state: State!
			move(to: State!): State!
		}
		enum State {
			OPEN
			CLOSED
		}
	`, schemabuilder.Options{
		Resolvers: map[string]graphql.FieldResolveFn{
			"Query.state": func(p graphql.ResolveParams) (any, error) {
				return "OPEN", nil
			},
			"Query.move": func(p graphql.ResolveParams) (any, error) {
				return p.Args["to"], nil
			},
		},
	})

	got := exec(t, schema, `{ state move(to: CLOSED) }`, nil)

	want := map[string]any{"state": "OPEN", "move": "CLOSED"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_InputObjectFieldDefault(t *testing.T) {
	schema := buildAndCompile(t, `
		type Query {
			greet(input: GreetInput!): String!
		}
		input GreetInput {
			name: String!
			greeting: String = "Hello"
		}
	`, schemabuilder.Options{
		Resolvers: map[string]graphql.FieldResolveFn{
			"Query.greet": func(p graphql.ResolveParams) (any, error) {
				input := p.Args["input"].(map[string]any)
				return input["greeting"].(string) + ", " + input["name"].(string) + "!", nil
			},
		},
	})

	got := exec(t, schema, `{ greet(input: {name: "Ada"}) }`, nil)
	require.Equal(t, "Hello, Ada!", got["greet"])

	got = exec(t, schema, `{ greet(input: {name: "Ada", greeting: "Hi"}) }`, nil)
	require.Equal(t, "Hi, Ada!", got["greet"])
}

func TestBuild_InterfaceTypenameFallback(t *testing.T) {
	// No type resolver configured: the builder's fallback reads __typename
	// from the map source.
	schema := buildAndCompile(t, `
		type Query {
			node: Node
		}
		interface Node {
			id: ID!
		}
		type User implements Node {
			id: ID!
			email: String!
		}
		type Robot implements Node {
			id: ID!
			model: String!
		}
	`, schemabuilder.Options{
		Resolvers: map[string]graphql.FieldResolveFn{
			"Query.node": func(p graphql.ResolveParams) (any, error) {
				return map[string]any{
					"__typename": "Robot",
					"id":         "r1",
					"model":      "T-800",
				}, nil
			},
		},
	})

	got := exec(t, schema, `{ node { id ... on Robot { model } } }`, nil)

	want := map[string]any{
		"node": map[string]any{"id": "r1", "model": "T-800"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_UnionWithTypeResolver(t *testing.T) {
	schema := buildAndCompile(t, `
		type Query {
			pet: Pet
		}
		union Pet = Dog | Cat
		type Dog {
			name: String!
			barks: Boolean!
		}
		type Cat {
			name: String!
			meows: Boolean!
		}
	`, schemabuilder.Options{
		Resolvers: map[string]graphql.FieldResolveFn{
			"Query.pet": func(p graphql.ResolveParams) (any, error) {
				return map[string]any{"name": "Rex", "barks": true}, nil
			},
		},
		TypeResolvers: map[string]graphql.ResolveTypeFn{
			"Pet": func(p graphql.ResolveTypeParams) *graphql.Object {
				m := p.Value.(map[string]any)
				if _, ok := m["barks"]; ok {
					return p.Info.Schema.TypeMap()["Dog"].(*graphql.Object)
				}
				return p.Info.Schema.TypeMap()["Cat"].(*graphql.Object)
			},
		},
	})

	got := exec(t, schema, `{ pet { ... on Dog { name barks } } }`, nil)

	want := map[string]any{
		"pet": map[string]any{"name": "Rex", "barks": true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_CustomScalar(t *testing.T) {
	const known = "f47ac10b-58cc-4372-a567-0e02b2c3d479"

	uuidScalar := schemabuilder.ScalarFunctions{
		Serialize: func(value any) any {
			switch v := value.(type) {
			case uuid.UUID:
				return v.String()
			case string:
				return v
			default:
				return nil
			}
		},
		ParseValue: func(value any) any {
			s, ok := value.(string)
			if !ok {
				return nil
			}
			id, err := uuid.Parse(s)
			if err != nil {
				return nil
			}
			return id
		},
		ParseLiteral: func(valueAST gast.Value) any {
			s, ok := valueAST.GetValue().(string)
			if !ok {
				return nil
			}
			id, err := uuid.Parse(s)
			if err != nil {
				return nil
			}
			return id
		},
	}

	schema := buildAndCompile(t, `
		scalar UUID
		type Query {
			id: UUID!
			echo(id: UUID!): UUID!
		}
	`, schemabuilder.Options{
		Scalars: map[string]schemabuilder.ScalarFunctions{
			"UUID": uuidScalar,
		},
		Resolvers: map[string]graphql.FieldResolveFn{
			"Query.id": func(p graphql.ResolveParams) (any, error) {
				return uuid.MustParse(known), nil
			},
			"Query.echo": func(p graphql.ResolveParams) (any, error) {
				id, ok := p.Args["id"].(uuid.UUID)
				require.True(t, ok, "argument came through as %T", p.Args["id"])
				return id, nil
			},
		},
	})

	got := exec(t, schema, `{ id echo(id: "`+known+`") }`, nil)
	require.Equal(t, known, got["id"])
	require.Equal(t, known, got["echo"])

	got = exec(t, schema, `query($id: UUID!) { echo(id: $id) }`, map[string]any{"id": known})
	require.Equal(t, known, got["echo"])
}

func TestBuild_SubscriptionField(t *testing.T) {
	schema := buildAndCompile(t, `
		type Query {
			ok: Boolean!
		}
		type Subscription {
			ticks: Int!
		}
	`, schemabuilder.Options{
		Resolvers: map[string]graphql.FieldResolveFn{
			"Query.ok": func(p graphql.ResolveParams) (any, error) {
				return true, nil
			},
		},
		Subscribers: map[string]graphql.FieldResolveFn{
			"Subscription.ticks": func(p graphql.ResolveParams) (any, error) {
				ch := make(chan interface{}, 3)
				ch <- 1
				ch <- 2
				ch <- 3
				close(ch)
				return ch, nil
			},
		},
	})

	results := graphql.Subscribe(graphql.Params{
		Schema:        schema,
		RequestString: `subscription { ticks }`,
		Context:       context.Background(),
	})

	var got []any
	for res := range results {
		require.Empty(t, res.Errors)
		got = append(got, res.Data.(map[string]any)["ticks"])
	}
	require.Equal(t, []any{1, 2, 3}, got)
}

func TestBuild_DeprecationAndDescriptions(t *testing.T) {
	schema := buildAndCompile(t, `
		"""
		Widget access.
		"""
		type Query {
			"Current widget name."
			name: String! @deprecated(reason: "Use title.")
			title: String!
			status: String! @deprecated
		}
	`, schemabuilder.Options{})

	query := schema.QueryType()
	require.Equal(t, "Widget access.", query.Description())

	fields := query.Fields()
	require.Equal(t, "Current widget name.", fields["name"].Description)
	require.Equal(t, "Use title.", fields["name"].DeprecationReason)
	require.Equal(t, "", fields["title"].DeprecationReason)
	require.Equal(t, "No longer supported", fields["status"].DeprecationReason)
}

func TestBuild_CustomDirective(t *testing.T) {
	schema := buildAndCompile(t, `
		directive @cost(value: Int!) on FIELD_DEFINITION
		type Query {
			hello: String!
		}
	`, schemabuilder.Options{})

	names := make(map[string]bool)
	for _, d := range schema.Directives() {
		names[d.Name] = true
	}
	// The declared directive joins the engine's default set instead of
	// replacing it.
	for _, name := range []string{"cost", "include", "skip", "deprecated"} {
		require.True(t, names[name], "directive %q missing", name)
	}
}

func TestBuild_DefaultResolver(t *testing.T) {
	schema := buildAndCompile(t, `
		type Query {
			a: String!
			b: String!
		}
	`, schemabuilder.Options{
		Resolvers: map[string]graphql.FieldResolveFn{
			"Query.a": func(p graphql.ResolveParams) (any, error) {
				return "explicit", nil
			},
		},
		DefaultResolver: func(p graphql.ResolveParams) (any, error) {
			return "default:" + p.Info.FieldName, nil
		},
	})

	got := exec(t, schema, `{ a b }`, nil)

	want := map[string]any{"a": "explicit", "b": "default:b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_RejectsUnknownOptionTargets(t *testing.T) {
	const sdl = `
		scalar UUID
		type Query {
			hello: String!
		}
	`

	cases := []struct {
		name    string
		opts    schemabuilder.Options
		wantErr string
	}{
		{
			name: "resolver on unknown type",
			opts: schemabuilder.Options{
				Resolvers: map[string]graphql.FieldResolveFn{
					"Nope.hello": nil,
				},
			},
			wantErr: `resolver "Nope.hello"`,
		},
		{
			name: "resolver on unknown field",
			opts: schemabuilder.Options{
				Resolvers: map[string]graphql.FieldResolveFn{
					"Query.nope": nil,
				},
			},
			wantErr: `resolver "Query.nope"`,
		},
		{
			name: "resolver key without dot",
			opts: schemabuilder.Options{
				Resolvers: map[string]graphql.FieldResolveFn{
					"hello": nil,
				},
			},
			wantErr: `"Type.field"`,
		},
		{
			name: "subscriber on unknown field",
			opts: schemabuilder.Options{
				Subscribers: map[string]graphql.FieldResolveFn{
					"Query.nope": nil,
				},
			},
			wantErr: `subscriber "Query.nope"`,
		},
		{
			name: "scalar not declared",
			opts: schemabuilder.Options{
				Scalars: map[string]schemabuilder.ScalarFunctions{
					"DateTime": {},
				},
			},
			wantErr: `scalar "DateTime"`,
		},
		{
			name: "scalar is builtin",
			opts: schemabuilder.Options{
				Scalars: map[string]schemabuilder.ScalarFunctions{
					"String": {},
				},
			},
			wantErr: `scalar "String"`,
		},
		{
			name: "type resolver on non-abstract type",
			opts: schemabuilder.Options{
				TypeResolvers: map[string]graphql.ResolveTypeFn{
					"Query": nil,
				},
			},
			wantErr: `type resolver "Query"`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := schemabuilder.Build(loadSchema(t, sdl), tc.opts)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestBuild_UnreferencedTypeIsRegistered(t *testing.T) {
	schema := buildAndCompile(t, `
		type Query {
			hello: String!
		}
		type Orphan {
			id: ID!
		}
	`, schemabuilder.Options{})

	_, ok := schema.TypeMap()["Orphan"]
	require.True(t, ok, "declared but unreferenced type should stay reachable")
}

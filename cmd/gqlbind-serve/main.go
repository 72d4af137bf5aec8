// Command gqlbind-serve runs a demo GraphQL server over a small in-memory
// message board. It exists to show the pieces wired together: an SDL schema
// bound with resolvers, a custom scalar, a subscription streamed over the
// graphql-ws protocol, and the HTTP handler with GraphiQL.
//
// Configuration comes from the environment:
//
//	GQLBIND_ADDR        listen address (default ":8080")
//	GQLBIND_PRETTY      indent JSON responses (default "false")
//	GQLBIND_GRAPHIQL    serve the GraphiQL page (default "true")
//	GQLBIND_KEEPALIVE   websocket keepalive interval (default "20s")
//	GQLBIND_CORS        comma-separated allowed origins (default none)
//	GQLBIND_LOG_LEVEL   debug, info, warn or error (default "info")
//	GQLBIND_LOG_FORMAT  json or text (default "text")
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	gast "github.com/graphql-go/graphql/language/ast"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/lmenard/gqlbind"
	"github.com/lmenard/gqlbind/handler"
)

type config struct {
	Addr      string        `env:"GQLBIND_ADDR"       env-default:":8080"`
	Pretty    bool          `env:"GQLBIND_PRETTY"     env-default:"false"`
	GraphiQL  bool          `env:"GQLBIND_GRAPHIQL"   env-default:"true"`
	KeepAlive time.Duration `env:"GQLBIND_KEEPALIVE"  env-default:"20s"`
	CORS      []string      `env:"GQLBIND_CORS"`
	LogLevel  string        `env:"GQLBIND_LOG_LEVEL"  env-default:"info"`
	LogFormat string        `env:"GQLBIND_LOG_FORMAT" env-default:"text"`
}

const schemaSDL = `
scalar UUID

type Message {
	id: UUID!
	text: String!
	createdAt: String!
}

type Query {
	messages: [Message!]!
}

type Mutation {
	post(text: String!): Message!
}

type Subscription {
	messagePosted: Message!
}
`

func main() {
	var cfg config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("read config: %v", err)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	b := newBoard()
	schema, err := buildSchema(b)
	if err != nil {
		logger.Error("build schema", slog.String("error", err.Error()))
		os.Exit(1)
	}

	opts := []handler.Option{
		handler.WithGraphiQL(cfg.GraphiQL),
		handler.WithKeepAlive(cfg.KeepAlive),
		handler.WithLogger(logger),
		handler.WithMaxBodyBytes(1 << 20),
	}
	if cfg.Pretty {
		opts = append(opts, handler.WithPretty())
	}
	if len(cfg.CORS) > 0 {
		opts = append(opts, handler.WithCORS(cfg.CORS...))
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", handler.New(schema, opts...))

	server := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		logger.Info("listening", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func buildSchema(b *board) (gqlbind.Schema, error) {
	return gqlbind.BuildSchema(schemaSDL,
		gqlbind.WithScalar("UUID", gqlbind.ScalarFunctions{
			Serialize:    serializeUUID,
			ParseValue:   parseUUIDValue,
			ParseLiteral: parseUUIDLiteral,
		}),
		gqlbind.WithResolver("Query.messages", func(p gqlbind.ResolveParams) (any, error) {
			return b.list(), nil
		}),
		gqlbind.WithResolver("Mutation.post", func(p gqlbind.ResolveParams) (any, error) {
			text, _ := p.Args["text"].(string)
			return b.post(text), nil
		}),
		gqlbind.WithSubscriber("Subscription.messagePosted", func(p gqlbind.ResolveParams) (any, error) {
			return b.subscribe(p.Context), nil
		}),
	)
}

type message struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
}

// board is an in-memory message store fanning new messages out to
// subscription channels.
type board struct {
	mu       sync.Mutex
	messages []message
	subs     map[int]chan any
	nextSub  int
}

func newBoard() *board {
	return &board{subs: map[int]chan any{}}
}

func (b *board) list() []message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]message(nil), b.messages...)
}

func (b *board) post(text string) message {
	msg := message{
		ID:        uuid.New(),
		Text:      text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	b.mu.Lock()
	b.messages = append(b.messages, msg)
	for _, ch := range b.subs {
		// Slow subscribers drop messages instead of blocking the mutation.
		select {
		case ch <- msg:
		default:
		}
	}
	b.mu.Unlock()
	return msg
}

func (b *board) subscribe(ctx context.Context) chan any {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan any, 8)
	b.subs[id] = ch
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		// Removing and closing under the lock keeps post from sending on a
		// closed channel.
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

func serializeUUID(value any) any {
	switch v := value.(type) {
	case uuid.UUID:
		return v.String()
	case string:
		return v
	default:
		return nil
	}
}

func parseUUIDValue(value any) any {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return id
}

func parseUUIDLiteral(valueAST gast.Value) any {
	s, ok := valueAST.GetValue().(string)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return id
}

// newLogger builds a slog.Logger and installs it as the default.
// Format "json" is for production, "text" for development. Level is one of
// debug, info, warn, error.
func newLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

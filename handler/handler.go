// Package handler serves a bound schema over HTTP.
//
// It speaks the standard GraphQL HTTP conventions (POST application/json,
// single or batched, and GET with query parameters), upgrades websocket
// requests to the graphql-ws protocol for subscriptions, and serves a
// GraphiQL page to browsers. Requests are forwarded to the engine untouched
// and results are written back in the engine's own shape; only transport
// failures produce an error envelope of this package's making.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lmenard/gqlbind"
)

// Handler is an http.Handler that serves a GraphQL endpoint.
type Handler struct {
	schema gqlbind.Schema
	opt    Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// GraphiQL enables the in-browser IDE when true.
	GraphiQL bool

	// RootObjectFn supplies the root object passed to the engine for each
	// request. nil means no root object.
	RootObjectFn func(ctx context.Context, r *http.Request) map[string]any

	// Logger receives request records. nil means slog.Default().
	Logger *slog.Logger

	// KeepAlive is the interval between websocket ka messages once a
	// connection is acknowledged. 0 disables them.
	KeepAlive time.Duration
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithGraphiQL(enable bool) Option { return func(o *Options) { o.GraphiQL = enable } }
func WithRootObjectFn(fn func(ctx context.Context, r *http.Request) map[string]any) Option {
	return func(o *Options) { o.RootObjectFn = fn }
}
func WithLogger(l *slog.Logger) Option     { return func(o *Options) { o.Logger = l } }
func WithKeepAlive(d time.Duration) Option { return func(o *Options) { o.KeepAlive = d } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a GraphQL HTTP handler serving the given schema.
func New(schema gqlbind.Schema, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second, GraphiQL: true}
	for _, f := range opts {
		f(&op)
	}
	if op.Logger == nil {
		op.Logger = slog.Default()
	}
	return &Handler{schema: schema, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.serveWebsocket(w, r)
		return
	}

	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	rid := uuid.NewString()
	w.Header().Set("X-Request-Id", rid)
	log := h.opt.Logger.With("request_id", rid)

	status := http.StatusOK
	start := time.Now()
	defer func() {
		log.Info("graphql request",
			"method", r.Method,
			"status", status,
			"duration", time.Since(start))
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse("method not allowed"), h.opt.Pretty)
		return
	}

	// Serve GraphiQL when enabled and the client expects HTML.
	if r.Method == http.MethodGet && h.opt.GraphiQL && acceptsHTML(r.Header.Get("Accept")) && r.URL.Query().Get("query") == "" {
		serveGraphiQL(w, r)
		return
	}

	req, batch, perr := parseRequest(r, h.opt.MaxBodyBytes)
	if perr != nil {
		status = http.StatusBadRequest
		if errors.Is(perr, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(perr.Error()), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	var root map[string]any
	if h.opt.RootObjectFn != nil {
		root = h.opt.RootObjectFn(ctx, r)
	}

	if batch != nil {
		results := make([]any, len(batch))
		for i := range batch {
			results[i] = h.executeOne(ctx, batch[i], root)
		}
		writeJSON(w, status, results, h.opt.Pretty)
		return
	}

	writeJSON(w, status, h.executeOne(ctx, req, root), h.opt.Pretty)
}

// executeOne runs a single request through the engine. The engine reports
// its own failures inside the result, so there is nothing to translate.
func (h *Handler) executeOne(ctx context.Context, req graphqlRequest, root map[string]any) *gqlbind.Result {
	return gqlbind.Do(gqlbind.ExecutionParams{
		Schema:         h.schema,
		RequestString:  req.Query,
		RootObject:     root,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})
}

// ------------------ Request parsing ------------------

type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

var errBodyTooLarge = errors.New("body too large")

func parseRequest(r *http.Request, maxBody int64) (graphqlRequest, []graphqlRequest, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return graphqlRequest{}, nil, errors.New("missing 'query'")
		}
		req := graphqlRequest{
			Query:         q,
			OperationName: r.URL.Query().Get("operationName"),
		}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				return graphqlRequest{}, nil, errors.New("invalid 'variables' JSON")
			}
		}
		return req, nil, nil
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return graphqlRequest{}, nil, errors.New("unsupported Content-Type")
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return graphqlRequest{}, nil, errors.New("failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return graphqlRequest{}, nil, errBodyTooLarge
	}

	// A leading '[' marks a batch.
	if len(body) > 0 && body[0] == '[' {
		var batch []graphqlRequest
		if err := json.Unmarshal(body, &batch); err != nil {
			return graphqlRequest{}, nil, errors.New("invalid JSON")
		}
		if len(batch) == 0 {
			return graphqlRequest{}, nil, errors.New("empty batch")
		}
		return graphqlRequest{}, batch, nil
	}

	var req graphqlRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return graphqlRequest{}, nil, errors.New("invalid JSON")
	}
	if req.Query == "" {
		return graphqlRequest{}, nil, errors.New("missing 'query'")
	}
	return req, nil, nil
}

// ------------------ Response formatting ------------------

type errorEnvelope struct {
	Errors []errorMessage `json:"errors"`
}

type errorMessage struct {
	Message string `json:"message"`
}

// errorResponse shapes a transport failure. Errors the engine produced never
// pass through here.
func errorResponse(message string) errorEnvelope {
	return errorEnvelope{Errors: []errorMessage{{Message: message}}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" || !originAllowed(opts.AllowedOrigins, origin) {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func originAllowed(origins []string, origin string) bool {
	for _, o := range origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func acceptsHTML(accept string) bool {
	for _, p := range strings.Split(accept, ",") {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "text/html") {
			return true
		}
	}
	return false
}

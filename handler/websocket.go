package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/lmenard/gqlbind"
)

// wsSubprotocol is the legacy graphql-ws protocol spoken by
// subscriptions-transport-ws clients.
const wsSubprotocol = "graphql-ws"

const wsWriteTimeout = 10 * time.Second

// Message types of the graphql-ws protocol.
const (
	gqlConnectionInit      = "connection_init"
	gqlConnectionAck       = "connection_ack"
	gqlConnectionKeepAlive = "ka"
	gqlConnectionTerminate = "connection_terminate"
	gqlStart               = "start"
	gqlStop                = "stop"
	gqlData                = "data"
	gqlError               = "error"
	gqlComplete            = "complete"
)

type operationMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type startPayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func (h *Handler) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{wsSubprotocol},
	}
	if len(h.opt.CORS.AllowedOrigins) > 0 {
		up.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(h.opt.CORS.AllowedOrigins, origin)
		}
	}

	rid := uuid.NewString()
	conn, err := up.Upgrade(w, r, http.Header{"X-Request-Id": []string{rid}})
	if err != nil {
		// Upgrade already replied with an HTTP error.
		h.opt.Logger.Warn("websocket upgrade failed", "request_id", rid, "error", err)
		return
	}
	if h.opt.MaxBodyBytes > 0 {
		conn.SetReadLimit(h.opt.MaxBodyBytes)
	}

	var root map[string]any
	if h.opt.RootObjectFn != nil {
		root = h.opt.RootObjectFn(r.Context(), r)
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &wsConn{
		conn:   conn,
		schema: h.schema,
		opt:    &h.opt,
		log:    h.opt.Logger.With("request_id", rid),
		root:   root,
		ops:    map[string]context.CancelFunc{},
		ctx:    ctx,
		cancel: cancel,
	}
	defer c.close()
	c.log.Info("websocket connected")
	c.run()
	c.log.Info("websocket disconnected")
}

// wsConn is the server side of one graphql-ws connection. Writes are
// serialized through mu; each started operation owns a cancelable context
// derived from the connection's.
type wsConn struct {
	conn   *websocket.Conn
	schema gqlbind.Schema
	opt    *Options
	log    *slog.Logger
	root   map[string]any

	mu sync.Mutex // guards writes to conn

	opsMu sync.Mutex
	ops   map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
}

func (c *wsConn) run() {
	for {
		var msg operationMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				c.log.Warn("websocket read failed", "error", err)
			}
			return
		}

		switch msg.Type {
		case gqlConnectionInit:
			c.write(operationMessage{Type: gqlConnectionAck})
			if c.opt.KeepAlive > 0 {
				c.write(operationMessage{Type: gqlConnectionKeepAlive})
				go c.keepAlive()
			}
		case gqlStart:
			c.start(msg)
		case gqlStop:
			c.finish(msg.ID)
		case gqlConnectionTerminate:
			return
		default:
			c.writeError(msg.ID, fmt.Sprintf("unknown message type %q", msg.Type))
		}
	}
}

func (c *wsConn) keepAlive() {
	ticker := time.NewTicker(c.opt.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.write(operationMessage{Type: gqlConnectionKeepAlive})
		}
	}
}

func (c *wsConn) start(msg operationMessage) {
	if msg.ID == "" {
		c.writeError("", "start requires an id")
		return
	}
	var payload startPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.writeError(msg.ID, "invalid start payload")
		return
	}

	opCtx, opCancel := context.WithCancel(c.ctx)
	c.opsMu.Lock()
	if _, exists := c.ops[msg.ID]; exists {
		c.opsMu.Unlock()
		opCancel()
		c.writeError(msg.ID, fmt.Sprintf("operation %q already started", msg.ID))
		return
	}
	c.ops[msg.ID] = opCancel
	c.opsMu.Unlock()

	params := gqlbind.ExecutionParams{
		Schema:         c.schema,
		RequestString:  payload.Query,
		RootObject:     c.root,
		VariableValues: payload.Variables,
		OperationName:  payload.OperationName,
		Context:        opCtx,
	}

	go func() {
		defer c.finish(msg.ID)
		if !isSubscription(payload.Query, payload.OperationName) {
			c.writeResult(msg.ID, gqlbind.Do(params))
			return
		}
		for res := range gqlbind.Subscribe(params) {
			select {
			case <-opCtx.Done():
				return
			default:
			}
			c.writeResult(msg.ID, res)
		}
	}()
}

// finish cancels an operation and completes it on the wire. Whichever of the
// stop handler and the operation goroutine gets here first sends the single
// complete message.
func (c *wsConn) finish(id string) {
	c.opsMu.Lock()
	cancel, ok := c.ops[id]
	delete(c.ops, id)
	c.opsMu.Unlock()
	if ok {
		cancel()
		c.write(operationMessage{ID: id, Type: gqlComplete})
	}
}

func (c *wsConn) close() {
	c.cancel()
	c.opsMu.Lock()
	for id, cancel := range c.ops {
		cancel()
		delete(c.ops, id)
	}
	c.opsMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
	_ = c.conn.Close()
}

func (c *wsConn) writeResult(id string, res *gqlbind.Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		c.writeError(id, "encoding result: "+err.Error())
		return
	}
	c.write(operationMessage{ID: id, Type: gqlData, Payload: payload})
}

func (c *wsConn) writeError(id, message string) {
	payload, _ := json.Marshal(errorMessage{Message: message})
	c.write(operationMessage{ID: id, Type: gqlError, Payload: payload})
}

func (c *wsConn) write(msg operationMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.log.Warn("websocket write failed", "type", msg.Type, "error", err)
	}
}

// isSubscription reports whether the named operation in the document is a
// subscription. Only the operation kind is read here; validation and
// execution stay with the engine, so a document that does not parse simply
// routes to one-shot execution and carries the engine's diagnostics back.
func isSubscription(query, operationName string) bool {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return false
	}
	op := doc.Operations.ForName(operationName)
	return op != nil && op.Operation == ast.Subscription
}

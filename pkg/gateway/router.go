package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/harun/cmdq/pkg/commands"
)

const replayTTL = 5 * time.Minute

// RPCRouter dispatches JSON-RPC requests to registered handlers
type RPCRouter struct {
	mu      sync.RWMutex
	methods map[string]RequestHandler
	replays *replayCache
}

func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		methods: make(map[string]RequestHandler),
		replays: newReplayCache(replayTTL),
	}
}

// RegisterMethod registers or replaces the handler for name
func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	r.mu.Lock()
	r.methods[name] = handler
	r.mu.Unlock()
	return nil
}

func (r *RPCRouter) UnregisterMethod(name string) {
	r.mu.Lock()
	delete(r.methods, name)
	r.mu.Unlock()
}

func (r *RPCRouter) HasMethod(name string) bool {
	_, ok := r.handler(name)
	return ok
}

func (r *RPCRouter) handler(name string) (RequestHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.methods[name]
	return h, ok
}

// GetMethods returns the registered method names in order
func (r *RPCRouter) GetMethods() []string {
	r.mu.RLock()
	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	r.mu.RUnlock()

	sort.Strings(methods)
	return methods
}

// ParseRequest decodes a request frame. Errors are *RPCError values.
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}

	switch {
	case req.ID == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing id field"}
	case req.Method == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing method field"}
	}

	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}
	return &req, nil
}

// RouteRequest runs the handler for req. A response to a request carrying
// an idempotency key is replayed for later requests with the same method
// and key until it expires.
func (r *RPCRouter) RouteRequest(ctx context.Context, req *RPCRequest) *RPCResponse {
	if req == nil {
		return &RPCResponse{JSONRPC: "2.0", Error: &RPCError{Code: InvalidRequest, Message: "invalid request"}}
	}

	var replayKey string
	if req.IdempotencyKey != "" {
		replayKey = req.Method + ":" + req.IdempotencyKey
		if cached, ok := r.replays.get(replayKey); ok {
			cached.ID = req.ID
			return &cached
		}
	}

	resp := &RPCResponse{ID: req.ID, JSONRPC: "2.0"}
	handler, ok := r.handler(req.Method)
	if !ok {
		resp.Error = &RPCError{Code: MethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)}
		return resp
	}

	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	if result, err := handler(ctx, params); err != nil {
		resp.Error = toRPCError(err)
	} else {
		resp.Result = result
	}

	if replayKey != "" {
		r.replays.put(replayKey, *resp)
	}
	return resp
}

// toRPCError maps handler errors onto JSON-RPC error codes
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	code := InternalError
	switch {
	case errors.Is(err, errInvalidParams),
		errors.Is(err, commandqueue.ErrNilCommand),
		errors.Is(err, commands.ErrInvalidSpec),
		errors.Is(err, commands.ErrUnknownKind):
		code = InvalidParams
	case errors.Is(err, commandqueue.ErrNotFound),
		errors.Is(err, commandqueue.ErrQueueEmpty):
		code = NotFound
	case errors.Is(err, commandqueue.ErrTimeout):
		code = Timeout
	case errors.Is(err, commandqueue.ErrCommandStarted),
		errors.Is(err, commandqueue.ErrInvalidMove),
		errors.Is(err, commandqueue.ErrDetailsNotEditable),
		errors.Is(err, commandqueue.ErrIllegalTransition),
		errors.Is(err, commandqueue.ErrProcessorBusy),
		errors.Is(err, commandqueue.ErrProcessorClosed):
		code = Conflict
	}
	return &RPCError{Code: code, Message: err.Error()}
}

// replayCache holds responses by idempotency key until they expire.
// Expired entries are swept on every put.
type replayCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]replayEntry
}

type replayEntry struct {
	resp    RPCResponse
	expires time.Time
}

func newReplayCache(ttl time.Duration) *replayCache {
	return &replayCache{ttl: ttl, now: time.Now, entries: make(map[string]replayEntry)}
}

func (c *replayCache) get(key string) (RPCResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return RPCResponse{}, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return RPCResponse{}, false
	}
	return entry.resp.clone(), true
}

func (c *replayCache) put(key string, resp RPCResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = replayEntry{resp: resp.clone(), expires: now.Add(c.ttl)}
}

func (c *replayCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// clone copies the response so a replay cannot alias the cached error
func (r RPCResponse) clone() RPCResponse {
	if r.Error != nil {
		e := *r.Error
		r.Error = &e
	}
	return r
}

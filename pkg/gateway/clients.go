package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/cmdq/internal/observability"
)

const (
	writeWait = 5 * time.Second
	idleAfter = 5 * time.Minute
)

// Client is one websocket connection. Authenticated, Challenge,
// AuthAttempts and LastActivity are guarded by the owning registry.
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Remote      string
	ConnectedAt time.Time
	RateLimiter *ClientRateLimiter

	Authenticated bool
	Challenge     string
	AuthAttempts  int
	LastActivity  time.Time

	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex
}

func (c *Client) write(fn func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return fn()
}

// WriteMessage writes a raw frame to the client
func (c *Client) WriteMessage(messageType int, data []byte) error {
	return c.write(func() error { return c.Conn.WriteMessage(messageType, data) })
}

// WriteJSON writes v as a JSON text frame
func (c *Client) WriteJSON(v interface{}) error {
	return c.write(func() error { return c.Conn.WriteJSON(v) })
}

func (c *Client) Close() error {
	return c.Conn.Close()
}

// ClientRegistry tracks connected clients and keeps the websocket client
// gauge current
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client)}
}

func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	n := len(r.clients)
	r.mu.Unlock()
	observability.SetWSClients(n)
}

func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	n := len(r.clients)
	r.mu.Unlock()
	observability.SetWSClients(n)
}

// Update runs fn on a registered client under the registry lock and
// reports whether the client was found
func (r *ClientRegistry) Update(clientID string, fn func(*Client)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[clientID]
	if ok {
		fn(client)
	}
	return ok
}

// Touch records activity on a client
func (r *ClientRegistry) Touch(clientID string) {
	r.Update(clientID, func(c *Client) { c.LastActivity = time.Now() })
}

// IsAuthenticated reports whether a registered client has authenticated
func (r *ClientRegistry) IsAuthenticated(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[clientID]
	return ok && client.Authenticated
}

// All returns every client, authenticated or not
func (r *ClientRegistry) All() []*Client {
	return r.filter(func(*Client) bool { return true })
}

// Authenticated returns the clients that may receive events
func (r *ClientRegistry) Authenticated() []*Client {
	return r.filter(func(c *Client) bool { return c.Authenticated })
}

func (r *ClientRegistry) filter(keep func(*Client) bool) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot describes every client, oldest connection first
func (r *ClientRegistry) Snapshot() []ClientInfo {
	r.mu.RLock()
	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		infos = append(infos, ClientInfo{
			ID:            c.ID,
			Remote:        c.Remote,
			Authenticated: c.Authenticated,
			ConnectedAt:   c.ConnectedAt,
			LastActivity:  c.LastActivity,
			Idle:          now.Sub(c.LastActivity) > idleAfter,
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

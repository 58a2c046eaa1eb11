package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrHubClosed is returned by Publish after Close.
var ErrHubClosed = errors.New("events: hub closed")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ring holds the last N encoded events for late subscribers.
type ring struct {
	buf   []frame
	start int
	count int
}

type frame struct {
	op   models.Operation
	seq  uint64
	data []byte
}

func (r *ring) add(f frame) {
	if len(r.buf) == 0 {
		return
	}
	idx := (r.start + r.count) % len(r.buf)
	if r.count == len(r.buf) {
		r.start = (r.start + 1) % len(r.buf)
		r.count--
	}
	r.buf[idx] = f
	r.count++
}

func (r *ring) since(seq uint64) []frame {
	var out []frame
	for i := 0; i < r.count; i++ {
		f := r.buf[(r.start+i)%len(r.buf)]
		if f.seq > seq {
			out = append(out, f)
		}
	}
	return out
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	ops  map[models.Operation]bool // empty means every operation
}

func (c *client) wants(op models.Operation) bool {
	return len(c.ops) == 0 || c.ops[op]
}

// Hub broadcasts committed events to websocket subscribers. Clients may
// restrict the stream with repeated ?operation= query parameters and resume
// with ?since=<sequence> from the replay buffer.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	unregister chan *client
	broadcast  chan frame
	done       chan struct{}
	closeOnce  sync.Once

	mu      sync.Mutex
	clients map[*client]struct{}
	replay  ring
}

var _ Sink = (*Hub)(nil)

// NewHub starts a hub keeping replaySize events for reconnecting clients.
func NewHub(log *zap.Logger, replaySize int) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		unregister: make(chan *client),
		broadcast:  make(chan frame, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		replay:     ring{buf: make([]frame, replaySize)},
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case f := <-h.broadcast:
			h.mu.Lock()
			h.replay.add(f)
			for c := range h.clients {
				if !c.wants(f.op) {
					continue
				}
				select {
				case c.send <- f.data:
				default:
					// slow client
					delete(h.clients, c)
					close(c.send)
					h.log.Warn("dropping slow event subscriber")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues ev for every subscriber. It never blocks on slow clients.
func (h *Hub) Publish(ctx context.Context, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	case h.broadcast <- frame{op: ev.Operation, seq: ev.Sequence, data: data}:
		return nil
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ServeWS upgrades the request and streams events until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, since uint64, ops []models.Operation) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, 256),
		ops:  make(map[models.Operation]bool, len(ops)),
	}
	for _, op := range ops {
		c.ops[op] = true
	}

	// Register and queue the backlog under one lock so no event is missed or
	// delivered twice between the two.
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		conn.Close()
		return
	default:
	}
	h.clients[c] = struct{}{}
	for _, f := range h.replay.since(since) {
		if c.wants(f.op) {
			select {
			case c.send <- f.data:
			default:
			}
		}
	}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// readPump only services control frames; subscribers never send data.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

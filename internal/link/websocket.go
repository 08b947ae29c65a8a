package link

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/gesture_node/internal/monitoring"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the device serves a local dashboard only
	},
}

// wsClient buffers outgoing frames for one connection.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

const wsSendBuffer = 64

// WebSocket is a Link serving binary frames [channel][payload] on /ws and
// a JSON status snapshot on /api/status.
type WebSocket struct {
	in *inbox

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	status  func() any
	closed  bool
	srv     *http.Server
}

// NewWebSocket returns a WebSocket link. Mount Handler or call Serve.
func NewWebSocket(inboxSize int) *WebSocket {
	return &WebSocket{
		in:      newInbox(inboxSize),
		clients: make(map[*wsClient]struct{}),
	}
}

// SetStatusFunc sets the snapshot served by /api/status. f is called from
// HTTP goroutines and must be safe for that.
func (w *WebSocket) SetStatusFunc(f func() any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = f
}

// Handler returns the HTTP routes of the link.
func (w *WebSocket) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", w.handleWS)
	mux.HandleFunc("/api/status", w.handleStatus)
	return mux
}

// Serve listens on addr in the background until Close.
func (w *WebSocket) Serve(addr string) {
	srv := &http.Server{Addr: addr, Handler: w.Handler(), ReadHeaderTimeout: 5 * time.Second}
	w.mu.Lock()
	w.srv = srv
	w.mu.Unlock()
	go func() {
		monitoring.Logf("link: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Logf("link: web server error: %v", err)
		}
	}()
}

func (w *WebSocket) handleStatus(rw http.ResponseWriter, r *http.Request) {
	w.mu.Lock()
	f := w.status
	w.mu.Unlock()
	if f == nil {
		http.Error(rw, "no data yet", http.StatusServiceUnavailable)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(f()); err != nil {
		monitoring.Logf("link: status encode error: %v", err)
	}
}

func (w *WebSocket) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		monitoring.Logf("link: websocket upgrade error: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		conn.Close()
		return
	}
	w.clients[c] = struct{}{}
	n := len(w.clients)
	w.mu.Unlock()
	monitoring.Logf("link: websocket client connected (%d total)", n)

	go w.writeLoop(c)
	w.readLoop(c)
}

func (w *WebSocket) readLoop(c *wsClient) {
	defer w.drop(c)
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				monitoring.Logf("link: websocket error: %v", err)
			}
			return
		}
		if mt != websocket.BinaryMessage || len(data) < 1 {
			continue
		}
		ch := Channel(data[0])
		if !ch.Valid() {
			monitoring.Logf("link: websocket message on unknown channel %d", data[0])
			continue
		}
		w.in.push(ch, data[1:])
	}
}

func (w *WebSocket) writeLoop(c *wsClient) {
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			monitoring.Logf("link: websocket write error: %v", err)
			c.conn.Close()
			// keep draining until drop closes send
			for range c.send {
			}
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}

// drop unregisters c and stops its writer.
func (w *WebSocket) drop(c *wsClient) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.clients[c]; !ok {
		return
	}
	delete(w.clients, c)
	close(c.send)
	c.conn.Close()
}

// Clients returns the number of connected clients.
func (w *WebSocket) Clients() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

func (w *WebSocket) Poll() (Message, bool) { return w.in.poll() }

// Notify broadcasts to every connected client. Clients that cannot keep
// up miss the frame.
func (w *WebSocket) Notify(ch Channel, payload []byte) error {
	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, byte(ch))
	frame = append(frame, payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	for c := range w.clients {
		select {
		case c.send <- frame:
		default:
		}
	}
	return nil
}

// Close disconnects all clients and stops the server started by Serve.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for c := range w.clients {
		delete(w.clients, c)
		close(c.send)
	}
	srv := w.srv
	w.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return nil
}

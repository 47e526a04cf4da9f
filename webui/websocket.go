package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message is the envelope of every websocket frame sent to the page.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// NewMessage stamps a message with the current time.
func NewMessage(msgType string, data any) Message {
	return Message{Type: msgType, Timestamp: time.Now(), Data: data}
}

// Broadcaster fans status events out to every connected page. It implements
// imagegen.Publisher.
//
// Recent messages are kept and replayed to clients that connect later, so a
// freshly opened page learns whether the pipeline is already loaded.
type Broadcaster struct {
	clients map[*websocket.Conn]clientInfo
	mu      sync.RWMutex

	broadcast  chan Message
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	doneOnce   sync.Once

	recent   *Ring[[]byte]
	upgrader websocket.Upgrader
	cfg      BroadcasterConfig
	logger   *zap.Logger
}

type clientInfo struct {
	connectedAt time.Time
	remoteAddr  string
	send        chan []byte
}

// BroadcasterConfig holds websocket timings and buffer sizes.
type BroadcasterConfig struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	BroadcastBufferSize  int
	ClientSendBufferSize int

	// ReplaySize is how many recent messages a new client receives.
	ReplaySize int
}

// DefaultBroadcasterConfig returns the defaults used by the web server.
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		PingInterval:         30 * time.Second,
		PongWait:             60 * time.Second,
		WriteWait:            10 * time.Second,
		MaxMessageSize:       512,
		BroadcastBufferSize:  256,
		ClientSendBufferSize: 64,
		ReplaySize:           8,
	}
}

// NewBroadcaster creates a broadcaster. Call Start to begin delivering.
func NewBroadcaster(cfg BroadcasterConfig, logger *zap.Logger) *Broadcaster {
	def := DefaultBroadcasterConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.BroadcastBufferSize <= 0 {
		cfg.BroadcastBufferSize = def.BroadcastBufferSize
	}
	if cfg.ClientSendBufferSize <= 0 {
		cfg.ClientSendBufferSize = def.ClientSendBufferSize
	}
	if cfg.ReplaySize <= 0 {
		cfg.ReplaySize = def.ReplaySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Broadcaster{
		clients:    make(map[*websocket.Conn]clientInfo),
		broadcast:  make(chan Message, cfg.BroadcastBufferSize),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		recent:     NewRing[[]byte](cfg.ReplaySize),
		cfg:        cfg,
		logger:     logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The page is served from the same origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start runs the delivery loop until ctx is cancelled or Close is called.
func (b *Broadcaster) Start(ctx context.Context) {
	ping := time.NewTicker(b.cfg.PingInterval)
	defer ping.Stop()
	defer b.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case conn := <-b.register:
			b.addClient(conn)
		case conn := <-b.unregister:
			b.removeClient(conn)
		case msg := <-b.broadcast:
			b.broadcastToAll(msg)
		case <-ping.C:
			b.pingAll()
		}
	}
}

// Publish queues an event for all clients.
func (b *Broadcaster) Publish(event string, payload any) {
	b.BroadcastMessage(NewMessage(event, payload))
}

// BroadcastMessage queues msg without blocking. The message is dropped when
// the queue is full.
func (b *Broadcaster) BroadcastMessage(msg Message) {
	select {
	case b.broadcast <- msg:
	default:
		b.logger.Warn("broadcast queue full, dropping message", zap.String("type", msg.Type))
	}
}

// HandleConnection upgrades the request and registers the client.
func (b *Broadcaster) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(b.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(b.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(b.cfg.PongWait))
	})

	select {
	case b.register <- conn:
	case <-b.done:
		conn.Close()
		return
	}
	go b.readPump(conn)
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client and stops the loop. It is idempotent.
func (b *Broadcaster) Close() {
	b.doneOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn, info := range b.clients {
		close(info.send)
		delete(b.clients, conn)
	}
}

func (b *Broadcaster) addClient(conn *websocket.Conn) {
	info := clientInfo{
		connectedAt: time.Now(),
		remoteAddr:  conn.RemoteAddr().String(),
		send:        make(chan []byte, b.cfg.ClientSendBufferSize),
	}
	for _, data := range b.recent.All() {
		select {
		case info.send <- data:
		default:
		}
	}

	b.mu.Lock()
	select {
	case <-b.done:
		// Close already ran; nothing would close info.send
		b.mu.Unlock()
		conn.Close()
		return
	default:
	}
	b.clients[conn] = info
	n := len(b.clients)
	b.mu.Unlock()

	go b.writePump(conn, info.send)
	b.logger.Debug("client connected", zap.String("remote", info.remoteAddr), zap.Int("clients", n))
}

func (b *Broadcaster) removeClient(conn *websocket.Conn) {
	b.mu.Lock()
	info, ok := b.clients[conn]
	if ok {
		close(info.send)
		delete(b.clients, conn)
	}
	n := len(b.clients)
	b.mu.Unlock()

	if ok {
		b.logger.Debug("client disconnected",
			zap.String("remote", info.remoteAddr),
			zap.Duration("connected_for", time.Since(info.connectedAt)),
			zap.Int("clients", n))
	}
}

func (b *Broadcaster) broadcastToAll(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	b.recent.Push(data)

	var slow []*websocket.Conn
	b.mu.RLock()
	for conn, info := range b.clients {
		select {
		case info.send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	b.mu.RUnlock()

	for _, conn := range slow {
		b.logger.Warn("client send buffer full, disconnecting", zap.String("remote", conn.RemoteAddr().String()))
		b.removeClient(conn)
	}
}

func (b *Broadcaster) pingAll() {
	b.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for conn := range b.clients {
		conns = append(conns, conn)
	}
	b.mu.RUnlock()

	deadline := time.Now().Add(b.cfg.WriteWait)
	for _, conn := range conns {
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			b.removeClient(conn)
		}
	}
}

func (b *Broadcaster) readPump(conn *websocket.Conn) {
	defer func() {
		select {
		case b.unregister <- conn:
		case <-b.done:
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.logger.Debug("unexpected close", zap.Error(err))
			}
			return
		}
	}
}

func (b *Broadcaster) writePump(conn *websocket.Conn, send <-chan []byte) {
	defer conn.Close()

	for data := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(b.cfg.WriteWait))
}

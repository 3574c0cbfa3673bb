package server

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-dev/sigsync/pkg/signals"
	"github.com/vango-dev/sigsync/pkg/transport/wsconn"
)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithConnConfig sets the timing used for every peer connection.
func WithConnConfig(cfg wsconn.Config) HubOption {
	return func(h *Hub) {
		h.connCfg = cfg
	}
}

// WithPeersHook is called with the peer count whenever it changes.
func WithPeersHook(fn func(n int)) HubOption {
	return func(h *Hub) {
		h.onPeers = fn
	}
}

// Hub is a signals.Transport over a set of WebSocket peers.
type Hub struct {
	logger  *slog.Logger
	connCfg wsconn.Config
	onPeers func(int)

	// mu guards peers. Attach holds it exclusively while replaying so a
	// new peer sees the snapshot before any later update.
	mu       sync.RWMutex
	peers    map[string]*wsconn.Conn
	handler  func(signals.Message)
	snapshot func() []signals.Message
	closed   bool
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger:  slog.Default(),
		connCfg: wsconn.DefaultConfig(),
		peers:   make(map[string]*wsconn.Conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hub")
	return h
}

// SetSnapshot installs the source of the replay sent to new peers,
// normally the host context's CreatedMessages.
func (h *Hub) SetSnapshot(fn func() []signals.Message) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Send delivers msg to every peer. Failures on individual peers are
// joined into the returned error; other peers still receive msg.
func (h *Hub) Send(msg signals.Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return signals.ErrClosed
	}
	return h.broadcast("", msg)
}

// broadcast sends to every peer except skip. Callers hold mu.
func (h *Hub) broadcast(skip string, msg signals.Message) error {
	var errs []error
	for id, peer := range h.peers {
		if id == skip {
			continue
		}
		if err := peer.Send(msg); err != nil {
			h.logger.Debug("peer send failed", "peer_id", id, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Listen installs the handler for messages from any peer.
func (h *Hub) Listen(handler func(signals.Message)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return signals.ErrClosed
	}
	if h.handler == nil {
		h.handler = handler
	}
	return nil
}

// Attach adopts an upgraded connection as a new peer and returns it.
func (h *Hub) Attach(conn *websocket.Conn) (*wsconn.Conn, error) {
	peer := wsconn.New(conn,
		wsconn.WithID(uuid.NewString()),
		wsconn.WithConfig(h.connCfg),
		wsconn.WithLogger(h.logger),
	)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		peer.Close()
		return nil, signals.ErrClosed
	}
	if err := h.replay(peer); err != nil {
		h.mu.Unlock()
		peer.Close()
		return nil, err
	}
	h.peers[peer.ID()] = peer
	n := len(h.peers)
	h.mu.Unlock()

	h.logger.Info("peer attached", "peer_id", peer.ID(), "peers", n)
	h.peersChanged(n)

	if err := peer.Listen(func(msg signals.Message) { h.receive(peer.ID(), msg) }); err != nil {
		h.detach(peer.ID())
		return nil, err
	}
	go func() {
		<-peer.Done()
		h.detach(peer.ID())
	}()
	return peer, nil
}

// replay sends the host's signals to a new peer. Each one goes out as a
// created message, which lets a replicating peer build a replica, followed
// by an update carrying the same value, which overwrites whatever the peer
// declared locally for that id. The ready marker closes the snapshot.
// Callers hold mu.
func (h *Hub) replay(peer *wsconn.Conn) error {
	if h.snapshot != nil {
		for _, msg := range h.snapshot() {
			if err := peer.SendReplay(msg); err != nil {
				return err
			}
			update := signals.Message{Type: signals.MessageUpdate, ID: msg.ID, Value: msg.Value}
			if err := peer.SendReplay(update); err != nil {
				return err
			}
		}
	}
	return peer.SendReady()
}

// receive relays msg to the other peers, then hands it to the host.
func (h *Hub) receive(from string, msg signals.Message) {
	h.mu.RLock()
	if err := h.broadcast(from, msg); err != nil {
		h.logger.Debug("relay incomplete", "peer_id", from, "signal_id", msg.ID, "error", err)
	}
	handler := h.handler
	h.mu.RUnlock()

	if handler != nil {
		handler(msg)
	}
}

func (h *Hub) detach(id string) {
	h.mu.Lock()
	_, ok := h.peers[id]
	delete(h.peers, id)
	n := len(h.peers)
	h.mu.Unlock()

	if ok {
		h.logger.Info("peer detached", "peer_id", id, "peers", n)
		h.peersChanged(n)
	}
}

func (h *Hub) peersChanged(n int) {
	if h.onPeers != nil {
		h.onPeers(n)
	}
}

// Peers returns the ids of connected peers, sorted.
func (h *Hub) Peers() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of connected peers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close disconnects every peer. The hub rejects new peers afterwards.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	peers := make([]*wsconn.Conn, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	return nil
}

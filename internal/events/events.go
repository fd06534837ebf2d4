// Package events broadcasts the marketplace's domain events to live
// WebSocket subscribers, generalizing the teacher's internal/realtime hub
// (originally filtered by agent address) to filtering by listing key and
// event type.
package events

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbd888/solmarket/internal/idgen"
	"github.com/mbd888/solmarket/internal/metrics"
	"github.com/mbd888/solmarket/internal/quanta"
)

// Type names the event taxonomy from the external-interfaces table.
type Type string

const (
	MarketplaceInitialized  Type = "marketplace_initialized"
	ListingCreated          Type = "listing_created"
	BidPlaced               Type = "bid_placed"
	WithdrawalCreated       Type = "withdrawal_created"
	WithdrawalClaimed       Type = "withdrawal_claimed"
	SaleCompleted           Type = "sale_completed"
	SellerConfirmedTransfer Type = "seller_confirmed_transfer"
	UploadsVerified         Type = "uploads_verified"
	EmergencyVerification   Type = "emergency_verification"
	TransactionCompleted    Type = "transaction_completed"
	AuctionCancelled        Type = "auction_cancelled"
	ListingExpired          Type = "listing_expired"
	OfferCreated            Type = "offer_created"
	OfferCancelled          Type = "offer_cancelled"
	OfferExpired            Type = "offer_expired"
	OfferAccepted           Type = "offer_accepted"
	DisputeOpened           Type = "dispute_opened"
	ResolutionProposed      Type = "resolution_proposed"
	DisputeContested        Type = "dispute_contested"
	DisputeResolved         Type = "dispute_resolved"
	TreasuryChangeProposed  Type = "treasury_change_proposed"
	TreasuryChanged         Type = "treasury_changed"
	AdminChangeProposed     Type = "admin_change_proposed"
	AdminChanged            Type = "admin_changed"
	ContractPaused          Type = "contract_paused"
)

// Event is one domain event, timestamped by the engine's runtime.Clock
// rather than wall time so replays and tests stay deterministic.
type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Listing   string `json:"listing,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// NewEvent builds an Event, hex-encoding the listing key for the wire.
// The ID is a client-facing dedupe/correlation handle, not a PDA: it
// identifies a wire message, not an on-chain account, so it's generated the
// way the teacher generates webhook event ids rather than derived.
func NewEvent(typ Type, now int64, listing quanta.Pubkey, data any) *Event {
	return &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      typ,
		Timestamp: now,
		Listing:   hex.EncodeToString(listing[:]),
		Data:      data,
	}
}

// Subscription filters which events a client receives.
type Subscription struct {
	AllEvents bool     `json:"allEvents"`
	Types     []Type   `json:"types"`
	Listings  []string `json:"listings"` // hex-encoded listing keys
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// client is one connected WebSocket subscriber.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// MaxClients bounds concurrent live-feed connections.
const MaxClients = 10000

// Hub fans domain events out to subscribed WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan *Event
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{}
	maxClients int

	totalEvents  atomic.Int64
	totalClients atomic.Int64
}

// NewHub creates a Hub. Call Run in a goroutine before serving HandleWebSocket.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run services the hub's channels until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("event hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("event hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.totalClients.Add(1)
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))

		case ev := <-h.broadcast:
			h.totalEvents.Add(1)
			h.mu.RLock()
			var slow []*client
			payload, _ := json.Marshal(ev)
			for c := range h.clients {
				if h.shouldSend(c, ev) {
					select {
					case c.send <- payload:
					default:
						slow = append(slow, c)
					}
				}
			}
			h.mu.RUnlock()
			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					if _, ok := h.clients[c]; ok {
						close(c.send)
						delete(h.clients, c)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

func (h *Hub) shouldSend(c *client, ev *Event) bool {
	c.mu.RLock()
	sub := c.sub
	c.mu.RUnlock()

	if sub.AllEvents {
		return true
	}
	if len(sub.Types) > 0 {
		matched := false
		for _, t := range sub.Types {
			if t == ev.Type {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(sub.Listings) > 0 {
		matched := false
		for _, l := range sub.Listings {
			if l == ev.Listing {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Publish broadcasts an event to matching subscribers, dropping it and
// logging if the broadcast channel is saturated rather than blocking the
// engine instruction that produced it.
func (h *Hub) Publish(ev *Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("event broadcast channel full, dropping event", "type", ev.Type)
	}
}

// HandleWebSocket upgrades an HTTP request to a live-feed WebSocket connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 256), sub: Subscription{AllEvents: true}}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/escrow-engine/internal/metrics"
	"github.com/atmx/escrow-engine/internal/model"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 5 * time.Second
)

// Filter narrows the events a subscriber receives. Empty fields match all.
type Filter struct {
	ListingID string
	Asset     string
	Mint      string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e model.Event) bool {
	return (f.ListingID == "" || f.ListingID == e.ListingID) &&
		(f.Asset == "" || f.Asset == e.Asset) &&
		(f.Mint == "" || f.Mint == e.Mint)
}

// FilterFromQuery reads ?listing=, ?asset= and ?mint=.
func FilterFromQuery(r *http.Request) Filter {
	q := r.URL.Query()
	return Filter{ListingID: q.Get("listing"), Asset: q.Get("asset"), Mint: q.Get("mint")}
}

type subscriber struct {
	conn   *websocket.Conn
	filter Filter
}

// WSHub streams committed events to WebSocket subscribers. Each subscriber
// only gets the events matching its filter.
type WSHub struct {
	subs   map[*websocket.Conn]*subscriber
	events chan model.Event
	join   chan *subscriber
	leave  chan *websocket.Conn
	done   chan struct{}
	mu     sync.RWMutex
}

// NewWSHub creates a hub. Run must be started before subscribers connect.
func NewWSHub() *WSHub {
	return &WSHub{
		subs:   make(map[*websocket.Conn]*subscriber),
		events: make(chan model.Event, 256),
		join:   make(chan *subscriber),
		leave:  make(chan *websocket.Conn),
		done:   make(chan struct{}),
	}
}

// Run owns the subscriber set until ctx is done.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.subs {
				conn.Close()
			}
			clear(h.subs)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case s := <-h.join:
			h.setSub(s.conn, s)
			slog.Info("ws subscriber joined", "listing", s.filter.ListingID, "asset", s.filter.Asset)

		case conn := <-h.leave:
			h.setSub(conn, nil)

		case e := <-h.events:
			h.deliver(e)
		}
	}
}

// setSub adds s under conn, or removes conn when s is nil.
func (h *WSHub) setSub(conn *websocket.Conn, s *subscriber) {
	h.mu.Lock()
	if s != nil {
		h.subs[conn] = s
	} else if _, ok := h.subs[conn]; ok {
		delete(h.subs, conn)
		conn.Close()
	}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

func (h *WSHub) deliver(e model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, s := range h.subs {
		if !s.filter.Match(e) {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(e); err != nil {
			conn.Close()
			delete(h.subs, conn)
		}
	}
	metrics.WebSocketClients.Set(float64(len(h.subs)))
}

// Publish implements Sink. Events are dropped when the hub is backed up.
func (h *WSHub) Publish(_ context.Context, events ...model.Event) {
	for _, e := range events {
		select {
		case h.events <- e:
		default:
			slog.Warn("ws hub full, dropping event", "type", e.Type, "listing", e.ListingID)
		}
	}
}

func (h *WSHub) subscribed(conn *websocket.Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[conn]
	return ok
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS upgrades GET /api/v1/ws and subscribes the connection.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	select {
	case h.join <- &subscriber{conn: conn, filter: FilterFromQuery(r)}:
	case <-h.done:
		conn.Close()
		return
	}

	// Subscribers never send; reads only detect disconnects.
	go func() {
		defer func() {
			select {
			case h.leave <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if !h.subscribed(conn) {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}()
}

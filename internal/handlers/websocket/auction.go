package websocket

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/configs"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/handlers"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/errors"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type Options struct {
	PingInterval     time.Duration
	MaxMessageSize   int64
	RateLimit        float64
	RateBurst        int
	RequestTimeout   time.Duration
	AllowCrossOrigin bool
}

func OptionsFromConfig(cfg *configs.Config) Options {
	return Options{
		PingInterval:     cfg.WebSocket.PingInterval,
		MaxMessageSize:   cfg.WebSocket.MaxMessageSize,
		RateLimit:        cfg.WebSocket.RateLimit,
		RateBurst:        cfg.WebSocket.RateBurst,
		AllowCrossOrigin: cfg.Features.AllowCrossOrigin,
	}
}

type AuctionHandler struct {
	engine   handlers.Engine
	bidders  handlers.Bidders
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader
}

func NewAuctionWebSocketHandler(engine handlers.Engine, bidders handlers.Bidders, hub *Hub, opts Options) *AuctionHandler {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 1
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 3
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	h := &AuctionHandler{engine: engine, bidders: bidders, hub: hub, opts: opts}
	h.upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}
	if opts.AllowCrossOrigin {
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return h
}

// HandleAuctionWebSocket upgrades the HTTP request to a WebSocket connection
// for the user named by the gateway header.
func (h *AuctionHandler) HandleAuctionWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := handlers.UserID(r)
	if userID == "" {
		log.Debug("Websocket request without user id", "remote", r.RemoteAddr)
		http.Error(w, errors.New(errors.ErrInvalidToken, "Unauthorized").ToJSON(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Infof("Failed to upgrade connection: %v", err)
		return
	}

	// Initialize a new client
	client := newClient(userID, conn, rate.NewLimiter(rate.Limit(h.opts.RateLimit), h.opts.RateBurst))
	h.hub.Register(client)
	log.Debug("Client connected", "client", userID)

	pongWait := time.Duration(0)
	if h.opts.PingInterval > 0 {
		pongWait = 2 * h.opts.PingInterval
	}

	// Start handling the client
	go func() {
		client.ReadMessages(h.opts.MaxMessageSize, pongWait, h.HandleMessage)
		h.hub.Unregister(client)
	}()
	go client.WriteMessages(h.opts.PingInterval)
}

package websocket

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/handlers"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/errors"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
)

// Incoming message types.
const (
	MessageJoin   = "join"
	MessageBid    = "bid"
	MessageBuyNow = "buy_now"
)

// Outgoing frame types.
const (
	FrameAuctionState = "auction_state"
	FrameNotification = "notification"
)

type Message struct {
	Type string `json:"type"` // join, bid or buy_now
	Data string `json:"data"` // JSON payload of the message
}

// Frame is what the server writes to clients.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type joinMessage struct {
	AuctionID string `json:"auction_id"`
}

type bidMessage struct {
	AuctionID string `json:"auction_id"`
	MaxBid    int64  `json:"max_bid"`
}

// ParseMessage validates and parses incoming messages.
func ParseMessage(rawMessage []byte) (*Message, error) {
	var msg Message
	err := json.Unmarshal(rawMessage, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// HandleMessage routes the message based on its type.
func (h *AuctionHandler) HandleMessage(client *Client, rawMessage []byte) {
	if !client.RateLimiter.Allow() {
		log.Warnf("Rate limit exceeded for client %s", client.ID)
		h.sendError(client, errors.New(errors.ErrRateLimited, "Rate limit exceeded"))
		return
	}

	msg, err := ParseMessage(rawMessage)
	if err != nil {
		log.Infof("Invalid message from client %s: %v", client.ID, err)
		h.sendError(client, errors.New(errors.ErrBadMessageFormat, "Invalid message format"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.RequestTimeout)
	defer cancel()

	switch msg.Type {
	case MessageJoin:
		h.handleJoinMessage(ctx, client, msg.Data)
	case MessageBid:
		h.handleBidMessage(ctx, client, msg.Data)
	case MessageBuyNow:
		h.handleBuyNowMessage(ctx, client, msg.Data)
	default:
		log.Debugf("Unknown message type: %s", msg.Type)
		h.sendError(client, errors.New(errors.ErrUnknownMessageType, "Unknown message type"))
	}
}

func (h *AuctionHandler) handleJoinMessage(ctx context.Context, client *Client, data string) {
	var join joinMessage
	if err := json.Unmarshal([]byte(data), &join); err != nil || join.AuctionID == "" {
		h.sendError(client, errors.New(errors.ErrBadMessageFormat, "Invalid join message"))
		return
	}
	view, err := h.engine.Auction(ctx, join.AuctionID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	h.hub.Watch(join.AuctionID, client)
	log.Debug("Client joined the auction", "client", client.ID, "auction", join.AuctionID)
	h.send(client, h.stateFrame(ctx, view))
}

func (h *AuctionHandler) handleBidMessage(ctx context.Context, client *Client, data string) {
	var bid bidMessage
	if err := json.Unmarshal([]byte(data), &bid); err != nil || bid.AuctionID == "" {
		h.sendError(client, errors.New(errors.ErrBadMessageFormat, "Invalid bid message"))
		return
	}
	view, err := h.engine.SubmitMaxBid(ctx, bid.AuctionID, client.ID, bid.MaxBid)
	if err != nil {
		h.sendError(client, err)
		return
	}
	h.hub.Watch(bid.AuctionID, client)
	h.broadcastState(ctx, view)
}

func (h *AuctionHandler) handleBuyNowMessage(ctx context.Context, client *Client, data string) {
	var buy joinMessage
	if err := json.Unmarshal([]byte(data), &buy); err != nil || buy.AuctionID == "" {
		h.sendError(client, errors.New(errors.ErrBadMessageFormat, "Invalid buy now message"))
		return
	}
	_, view, err := h.engine.BuyNow(ctx, buy.AuctionID, client.ID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	h.hub.Watch(buy.AuctionID, client)
	h.broadcastState(ctx, view)
}

func (h *AuctionHandler) stateFrame(ctx context.Context, view types.AuctionView) []byte {
	raw, err := json.Marshal(Frame{Type: FrameAuctionState, Data: handlers.Present(ctx, h.bidders, view)})
	if err != nil {
		log.Error("Error marshalling auction state: ", err)
		return nil
	}
	return raw
}

// broadcastState pushes the new public state to everyone watching the auction.
func (h *AuctionHandler) broadcastState(ctx context.Context, view types.AuctionView) {
	if frame := h.stateFrame(ctx, view); frame != nil {
		h.hub.Broadcast(view.AuctionID, frame)
	}
}

func (h *AuctionHandler) send(client *Client, frame []byte) {
	if frame != nil {
		client.Enqueue(frame)
	}
}

// sendError reports err to the client. Errors without a code are not
// exposed.
func (h *AuctionHandler) sendError(client *Client, err error) {
	appErr := errors.Cause(err)
	if appErr == nil || appErr.Code == 0 || appErr.Code == errors.ErrInternalServer {
		log.Error("Error handling message", "client", client.ID, "err", err)
		appErr = errors.New(errors.ErrInternalServer, "Internal server error")
	}
	client.Enqueue([]byte(appErr.ToJSON()))
}

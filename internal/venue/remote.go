package venue

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/schema"
)

const (
	_remoteMethodPlace  = "order.place"
	_remoteMethodModify = "order.modify"
	_remoteMethodCancel = "order.cancel"

	_remoteRequestID int64 = 9101
)

// RemoteConfig describes a websocket order-entry session.
type RemoteConfig struct {
	URL         string
	Session     string
	PriceScale  int
	QtyScale    int
	ReplyBuffer int
}

func (c RemoteConfig) withDefaults() RemoteConfig {
	if c.Session == "" {
		c.Session = "default"
	}
	if c.PriceScale <= 0 {
		c.PriceScale = 8
	}
	if c.QtyScale <= 0 {
		c.QtyScale = 8
	}
	if c.ReplyBuffer <= 0 {
		c.ReplyBuffer = 64
	}
	return c
}

// Remote drives a venue's websocket order-entry API and converts its
// update stream into replies.
type Remote struct {
	cfg     RemoteConfig
	wss     *ws.WebSocket
	replies chan Reply
}

// NewRemote creates a connector bound to the venue endpoint.
func NewRemote(ctx context.Context, cfg RemoteConfig) *Remote {
	cfg = cfg.withDefaults()
	return &Remote{
		cfg:     cfg,
		wss:     ws.New(ctx, cfg.URL),
		replies: make(chan Reply, cfg.ReplyBuffer),
	}
}

// Start opens the websocket and begins translating order updates.
func (r *Remote) Start(ctx context.Context) error {
	if err := r.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}

	ch, cancel := r.wss.Subscribe()
	go func() {
		defer cancel()
		defer close(r.replies)
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				update, ok := ws.ReadMessage[remoteOrderUpdate](m)
				if !ok || update.Method != "order.update" {
					continue
				}

				reply, err := r.toReply(update)
				if err != nil {
					logs.Errorf("convert order update, err: %+v", err)
					continue
				}
				r.replies <- reply
			}
		}
	}()
	return nil
}

type remoteRequest struct {
	ID      int64             `json:"id"`
	Method  string            `json:"method"`
	Session string            `json:"session"`
	Params  map[string]string `json:"params"`
}

type remoteResponse struct {
	ID    int64  `json:"id"`
	Error string `json:"error,omitempty"`
}

type remoteOrderUpdate struct {
	Method   string          `json:"method"`
	ClientID string          `json:"client_id"`
	VenueRef string          `json:"order_id"`
	Status   string          `json:"status"`
	Reason   string          `json:"reason"`
	Price    string          `json:"price"`
	Amount   string          `json:"amount"`
	Fee      string          `json:"fee"`
	Left     string          `json:"left"`
	Last     decimal.Decimal `json:"last"`
	Time     int64           `json:"time"`
}

// Place submits a new order and waits for the venue to accept the request.
func (r *Remote) Place(ctx context.Context, spec schema.OrderSpec) error {
	return r.send(ctx, _remoteMethodPlace, map[string]string{
		"client_id": string(spec.ClientID),
		"market":    spec.Symbol,
		"side":      remoteSide(spec.Side),
		"type":      remoteType(spec.Type),
		"option":    remoteTimeInForce(spec.TimeInForce),
		"price":     formatScaled(int64(spec.Price), r.cfg.PriceScale),
		"amount":    formatScaled(int64(spec.Quantity), r.cfg.QtyScale),
	})
}

// Modify reprices a working order.
func (r *Remote) Modify(ctx context.Context, id schema.OrderID, price schema.Price, qty schema.Quantity) error {
	return r.send(ctx, _remoteMethodModify, map[string]string{
		"client_id": string(id),
		"price":     formatScaled(int64(price), r.cfg.PriceScale),
		"amount":    formatScaled(int64(qty), r.cfg.QtyScale),
	})
}

// Cancel withdraws a working order.
func (r *Remote) Cancel(ctx context.Context, id schema.OrderID) error {
	return r.send(ctx, _remoteMethodCancel, map[string]string{
		"client_id": string(id),
	})
}

// Replies streams converted venue order updates.
func (r *Remote) Replies() <-chan Reply {
	return r.replies
}

// Close tears down the websocket.
func (r *Remote) Close() {
	r.wss.Close()
}

func (r *Remote) send(ctx context.Context, method string, params map[string]string) error {
	appendIntoRegister := false
	if err := r.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			payload := remoteRequest{
				ID:      _remoteRequestID,
				Method:  method,
				Session: r.cfg.Session,
				Params:  params,
			}
			if err := client.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write order payload").With("method", method)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[remoteResponse](m)
			if !ok || resp.ID != _remoteRequestID {
				return false, nil
			}
			if resp.Error != "" {
				return false, errors.Errorf("venue refused %s, err: %s", method, resp.Error)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}
	return nil
}

func (r *Remote) toReply(update remoteOrderUpdate) (Reply, error) {
	reply := Reply{
		OrderID:  schema.OrderID(update.ClientID),
		VenueRef: update.VenueRef,
		Reason:   update.Reason,
		At:       time.Unix(0, update.Time*int64(time.Millisecond)),
	}

	switch update.Status {
	case "accepted":
		reply.Kind = ReplyAck
	case "rejected":
		reply.Kind = ReplyReject
	case "canceled":
		reply.Kind = ReplyCancelAck
	case "filled", "part_filled":
		reply.Kind = ReplyFill
		reply.Final = update.Status == "filled"

		price, err := parseScaled(update.Price, r.cfg.PriceScale)
		if err != nil {
			return Reply{}, errors.Wrap(err, "parse fill price")
		}
		qty, err := parseScaled(update.Amount, r.cfg.QtyScale)
		if err != nil {
			return Reply{}, errors.Wrap(err, "parse fill amount")
		}
		fee, err := parseScaled(update.Fee, r.cfg.PriceScale)
		if err != nil {
			return Reply{}, errors.Wrap(err, "parse fill fee")
		}
		reply.Price = schema.Price(price)
		reply.Quantity = schema.Quantity(qty)
		reply.Fee = schema.Fee(fee)
	default:
		return Reply{}, errors.Errorf("unknown order status %q", update.Status)
	}
	return reply, nil
}

func remoteSide(side schema.Side) string {
	switch side {
	case schema.SideSell:
		return "2"
	default:
		return "1"
	}
}

func remoteType(t schema.OrderType) string {
	switch t {
	case schema.OrderTypeMarket:
		return "market"
	default:
		return "limit"
	}
}

func remoteTimeInForce(tif schema.TimeInForce) string {
	switch tif {
	case schema.TimeInForceIOC:
		return "8"
	case schema.TimeInForceFOK:
		return "16"
	default:
		return "0"
	}
}

// formatScaled renders a scaled integer as a decimal string with the given
// number of fractional digits.
func formatScaled(v int64, scale int) string {
	neg := v < 0
	if neg {
		v = -v
	}
	div := int64(1)
	for i := 0; i < scale; i++ {
		div *= 10
	}
	whole := v / div
	frac := v % div

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(strconv.FormatInt(whole, 10))
	if scale > 0 {
		b.WriteByte('.')
		fracStr := strconv.FormatInt(frac, 10)
		for i := len(fracStr); i < scale; i++ {
			b.WriteByte('0')
		}
		b.WriteString(fracStr)
	}
	return b.String()
}

// parseScaled reads a decimal string into a scaled integer, truncating
// fractional digits beyond the scale.
func parseScaled(s string, scale int) (int64, error) {
	if s == "" {
		return 0, nil
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	wholeStr, fracStr, _ := strings.Cut(s, ".")
	if wholeStr == "" {
		wholeStr = "0"
	}
	if len(fracStr) > scale {
		fracStr = fracStr[:scale]
	}
	for len(fracStr) < scale {
		fracStr += "0"
	}

	whole, err := strconv.ParseInt(wholeStr, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse whole part")
	}
	div := int64(1)
	for i := 0; i < scale; i++ {
		div *= 10
	}
	v := whole * div
	if fracStr != "" {
		frac, err := strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "parse fractional part")
		}
		v += frac
	}
	if neg {
		v = -v
	}
	return v, nil
}

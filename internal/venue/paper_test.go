package venue

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/schema"
)

func paperSpec() schema.OrderSpec {
	return schema.OrderSpec{
		ClientID:    schema.NewOrderID(),
		Symbol:      "BTCUSDT",
		Side:        schema.SideBuy,
		Type:        schema.OrderTypeLimit,
		TimeInForce: schema.TimeInForceGTC,
		Price:       schema.Price(50_000_0000_0000),
		Quantity:    schema.Quantity(1_0000_0000),
	}
}

func nextReply(t *testing.T, p *Paper) Reply {
	t.Helper()
	select {
	case reply := <-p.Replies():
		return reply
	default:
		t.Fatal("no reply buffered")
		return Reply{}
	}
}

func TestPlaceAcksWithVenueRef(t *testing.T) {
	p := NewPaper(PaperConfig{})
	defer p.Close()

	spec := paperSpec()
	require.NoError(t, p.Place(context.Background(), spec))

	ack := nextReply(t, p)
	assert.Equal(t, ReplyAck, ack.Kind)
	assert.Equal(t, spec.ClientID, ack.OrderID)
	assert.Equal(t, "paper-1", ack.VenueRef)

	require.True(t, errors.Is(p.Place(context.Background(), spec), ErrAlreadyWorking))
}

func TestAutoFillFollowsAck(t *testing.T) {
	p := NewPaper(PaperConfig{AutoFill: true, FeePerFill: 25})
	defer p.Close()

	spec := paperSpec()
	require.NoError(t, p.Place(context.Background(), spec))

	assert.Equal(t, ReplyAck, nextReply(t, p).Kind)

	fill := nextReply(t, p)
	assert.Equal(t, ReplyFill, fill.Kind)
	assert.True(t, fill.Final)
	assert.Equal(t, spec.Price, fill.Price)
	assert.Equal(t, spec.Quantity, fill.Quantity)
	assert.EqualValues(t, 25, fill.Fee)

	// The order finished; it can no longer be cancelled.
	require.True(t, errors.Is(p.Cancel(context.Background(), spec.ClientID), ErrUnknownOrder))
}

func TestModifyAndCancel(t *testing.T) {
	p := NewPaper(PaperConfig{})
	defer p.Close()

	spec := paperSpec()
	require.NoError(t, p.Place(context.Background(), spec))
	nextReply(t, p)

	require.NoError(t, p.Modify(context.Background(), spec.ClientID, 49_000_0000_0000, spec.Quantity))
	assert.Equal(t, ReplyAck, nextReply(t, p).Kind)

	require.NoError(t, p.Cancel(context.Background(), spec.ClientID))
	cancelAck := nextReply(t, p)
	assert.Equal(t, ReplyCancelAck, cancelAck.Kind)

	require.True(t, errors.Is(p.Modify(context.Background(), spec.ClientID, 1, 1), ErrUnknownOrder))
	require.True(t, errors.Is(p.Modify(context.Background(), "ord-missing", 1, 1), ErrUnknownOrder))
}

func TestScriptedFillAndReject(t *testing.T) {
	p := NewPaper(PaperConfig{})
	defer p.Close()

	spec := paperSpec()
	require.NoError(t, p.Place(context.Background(), spec))
	nextReply(t, p)

	require.NoError(t, p.Fill(spec.ClientID, spec.Price, 5000_0000, false))
	partial := nextReply(t, p)
	assert.Equal(t, ReplyFill, partial.Kind)
	assert.False(t, partial.Final)

	// Still working after a partial; a reject then terminates it.
	require.NoError(t, p.Reject(spec.ClientID, "risk limit"))
	reject := nextReply(t, p)
	assert.Equal(t, ReplyReject, reject.Kind)
	assert.Equal(t, "risk limit", reject.Reason)

	require.True(t, errors.Is(p.Fill(spec.ClientID, spec.Price, 1, true), ErrUnknownOrder))
}

func TestStalledConsumerDoesNotBlockOrderEntry(t *testing.T) {
	// Nobody drains Replies: a full reply stream must shed, not wedge the
	// order path.
	p := NewPaper(PaperConfig{ReplyBuffer: 1, AutoFill: true})
	defer p.Close()

	done := make(chan error, 1)
	go func() {
		var firstErr error
		for i := 0; i < 8; i++ {
			spec := paperSpec()
			spec.ClientID = schema.OrderID("ord-stall-" + strconv.Itoa(i))
			if err := p.Place(context.Background(), spec); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		done <- firstErr
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("order entry blocked on a stalled reply consumer")
	}
}

func TestCloseStopsTheConnector(t *testing.T) {
	p := NewPaper(PaperConfig{})
	p.Close()
	p.Close() // idempotent

	require.True(t, errors.Is(p.Place(context.Background(), paperSpec()), ErrVenueClosed))
	_, open := <-p.Replies()
	assert.False(t, open)
}

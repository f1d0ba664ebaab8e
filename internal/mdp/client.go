package mdp

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
)

// Client is a short-lived, fire-and-forget dealer-style socket: it sends
// exactly one service-addressed request and awaits exactly one reply,
// within a caller-supplied timeout. Reconnection is implicit at
// construction; a Client never retries on its own — that policy belongs to
// the caller (the snapshot-dispatch loop opens one Client per attempt).
type Client struct {
	logger  *zap.Logger
	timeout time.Duration
	sock    zmq4.Socket
}

// NewClient dials broker and returns a ready-to-use Client. timeout bounds
// every subsequent Recv call; pass 0 for DefaultClientTimeout.
func NewClient(ctx context.Context, logger *zap.Logger, broker string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}

	sock := zmq4.NewDealer(ctx)
	if err := sock.Dial(broker); err != nil {
		return nil, fmt.Errorf("mdp: client dial %s: %w", broker, err)
	}

	return &Client{
		logger:  logger.Named("mdp-client"),
		timeout: timeout,
		sock:    sock,
	}, nil
}

// Send transmits request, framed for service, to the broker.
func (c *Client) Send(service string, request [][]byte) error {
	frames := append([][]byte{{}, clientProtocol, []byte(service)}, request...)
	if err := c.sock.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		return fmt.Errorf("mdp: client send: %w", err)
	}
	return nil
}

// Recv awaits one reply, up to the client's configured timeout. A nil,
// nil return means the timeout elapsed with no reply — the caller treats
// this as a failed attempt, not an error.
func (c *Client) Recv(ctx context.Context) ([][]byte, error) {
	type result struct {
		msg zmq4.Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := c.sock.Recv()
		done <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.timeout):
		c.logger.Debug("timed out waiting for reply")
		return nil, nil
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("mdp: client recv: %w", r.err)
		}
		return c.parseReply(r.msg.Frames)
	}
}

func (c *Client) parseReply(frames [][]byte) ([][]byte, error) {
	if len(frames) < 3 {
		return nil, fmt.Errorf("mdp: client received malformed reply (%d frames)", len(frames))
	}
	empty := frames[0]
	header := frames[1]
	if len(empty) != 0 || !bytes.Equal(header, clientProtocol) {
		return nil, fmt.Errorf("mdp: client received reply with bad envelope")
	}
	// frames[2] is the echoed service name; the remainder is the body.
	return frames[3:], nil
}

// Close releases the client's socket. Safe to call once a reply has been
// received or the caller has given up — a Client is meant to be used for a
// single request/reply pair and then discarded.
func (c *Client) Close() error {
	return c.sock.Close()
}

package mdp

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
)

// Worker registers under a single service name and exchanges requests and
// replies with a Broker. Its public contract is two operations: Connect and
// Recv. Recv(nil) is valid only on the first call; every subsequent call
// must supply the reply to the previous request.
//
// A Worker is not safe for concurrent use — each listener goroutine owns
// exactly one Worker.
type Worker struct {
	logger  *zap.Logger
	broker  string
	service []byte
	timeout time.Duration

	ctx  context.Context
	sock zmq4.Socket

	liveness    int
	heartbeatAt time.Time
	expectReply bool
	replyTo     []byte

	msgCh chan zmq4.Msg
	errCh chan error
}

// NewWorker constructs a Worker bound to service at the given broker
// endpoint. timeout governs how long Recv waits for a single broker
// message before treating it as a heartbeat miss; pass 0 for the protocol
// default (the heartbeat interval).
func NewWorker(logger *zap.Logger, broker, service string, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = HeartbeatInterval
	}
	return &Worker{
		logger:  logger.Named("mdp-worker").With(zap.String("service", service)),
		broker:  broker,
		service: []byte(service),
		timeout: timeout,
	}
}

// Connect dials the broker and sends READY. It is also called internally
// to reconnect after liveness is exhausted or the broker sends DISCONNECT.
func (w *Worker) Connect(ctx context.Context) error {
	w.ctx = ctx
	return w.reconnect()
}

func (w *Worker) reconnect() error {
	if w.sock != nil {
		_ = w.sock.Close()
	}

	w.sock = zmq4.NewDealer(w.ctx)
	if err := w.sock.Dial(w.broker); err != nil {
		return fmt.Errorf("mdp: worker dial %s: %w", w.broker, err)
	}
	w.logger.Debug("connecting to broker", zap.String("broker", w.broker))

	w.msgCh = make(chan zmq4.Msg)
	w.errCh = make(chan error, 1)
	go w.recvLoop()

	if err := w.sendToBroker(cmdReady, w.service, nil); err != nil {
		return err
	}

	w.liveness = HeartbeatLiveness
	w.heartbeatAt = time.Now().Add(HeartbeatInterval)
	return nil
}

func (w *Worker) recvLoop() {
	for {
		msg, err := w.sock.Recv()
		if err != nil {
			select {
			case w.errCh <- err:
			case <-w.ctx.Done():
			}
			return
		}
		select {
		case w.msgCh <- msg:
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Worker) sendToBroker(command []byte, option []byte, body [][]byte) error {
	frames := [][]byte{{}, workerProtocol, command}
	if option != nil {
		frames = append(frames, option)
	}
	frames = append(frames, body...)
	return w.sock.Send(zmq4.NewMsgFrom(frames...))
}

// Recv sends reply (the response to the previous request, or nil on the
// very first call), then blocks until the next request arrives, returning
// its body frames. It returns nil, nil if ctx is cancelled while
// waiting — callers should treat that as "stop listening".
func (w *Worker) Recv(ctx context.Context, reply [][]byte) ([][]byte, error) {
	if reply == nil && w.expectReply {
		return nil, fmt.Errorf("mdp: worker Recv called with nil reply after the first request")
	}

	if reply != nil {
		if w.replyTo == nil {
			return nil, fmt.Errorf("mdp: worker has no pending reply_to address")
		}
		body := append([][]byte{w.replyTo, {}}, reply...)
		if err := w.sendToBroker(cmdReply, nil, body); err != nil {
			return nil, err
		}
	}
	w.expectReply = true

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case err := <-w.errCh:
			return nil, fmt.Errorf("mdp: worker recv: %w", err)
		case msg := <-w.msgCh:
			request, done, err := w.handleMessage(msg.Frames)
			if err != nil {
				return nil, err
			}
			if done {
				return request, nil
			}
			// A HEARTBEAT or DISCONNECT was processed with no request to
			// return; fall through to the heartbeat check and keep waiting.
		case <-time.After(w.timeout):
			w.liveness--
			if w.liveness <= 0 {
				w.logger.Debug("disconnected from broker, retrying")
				time.Sleep(ReconnectDelay)
				if err := w.reconnect(); err != nil {
					return nil, err
				}
			}
		}

		if time.Now().After(w.heartbeatAt) {
			if err := w.sendToBroker(cmdHeartbeat, nil, nil); err != nil {
				return nil, err
			}
			w.heartbeatAt = time.Now().Add(HeartbeatInterval)
		}
	}
}

// handleMessage validates and interprets one broker->worker frame set.
// done is true when frames is a REQUEST whose body should be returned to
// the caller.
func (w *Worker) handleMessage(frames [][]byte) (request [][]byte, done bool, err error) {
	w.liveness = HeartbeatLiveness

	if len(frames) < 2 {
		return nil, false, fmt.Errorf("mdp: worker received malformed message (%d frames)", len(frames))
	}
	empty := frames[0]
	header := frames[1]
	if len(empty) != 0 || !bytes.Equal(header, workerProtocol) {
		return nil, false, fmt.Errorf("mdp: worker received message with bad envelope")
	}
	if len(frames) < 3 {
		return nil, false, fmt.Errorf("mdp: worker received message with no command")
	}
	command := frames[2]
	rest := frames[3:]

	switch {
	case bytes.Equal(command, cmdRequest):
		if len(rest) < 2 {
			return nil, false, fmt.Errorf("mdp: worker received REQUEST with no reply-to address")
		}
		w.replyTo = rest[0]
		// rest[1] is the empty delimiter following reply_to.
		return rest[2:], true, nil

	case bytes.Equal(command, cmdHeartbeat):
		return nil, false, nil

	case bytes.Equal(command, cmdDisconnect):
		if err := w.reconnect(); err != nil {
			return nil, false, err
		}
		return nil, false, nil

	default:
		w.logger.Error("invalid command from broker", zap.String("command", commandName(command)))
		return nil, false, nil
	}
}

// Close releases the worker's socket. It does not send DISCONNECT — per
// protocol, disappearing silently and letting the broker's liveness
// timeout reclaim the slot is a valid shutdown path, and is what a process
// crash looks like from the broker's perspective.
func (w *Worker) Close() error {
	if w.sock == nil {
		return nil
	}
	return w.sock.Close()
}

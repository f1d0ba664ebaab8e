package mdp

import (
	"bytes"
	"container/list"
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
)

// service is a named queue of pending client requests plus the set of idle
// workers registered under that name.
type service struct {
	name      string
	requests  *list.List // of [][]byte, each a [clientAddr, "", body...] envelope
	waiting   *list.List // of *peerWorker, oldest-idle-first
	workerCnt int        // registered workers, idle or busy
}

// peerWorker is the broker's bookkeeping record for one connected worker,
// idle or busy.
type peerWorker struct {
	identity string // hex-encoded ROUTER identity frame, used as the map key
	address  []byte // raw identity frame, used to address sends
	expiry   time.Time
	svc      *service

	brokerElem *list.Element // this worker's element in Broker.waiting, nil if not idle
	svcElem    *list.Element // this worker's element in svc.waiting, nil if not idle
}

// Broker is a single-threaded Majordomo broker: one ROUTER-style endpoint
// that tracks services and workers, routes client requests to idle workers,
// and garbage-collects workers that stop heartbeating.
//
// A Broker owns all of its state; no field is safe to touch from outside
// the goroutine that calls Run. The one exception is Stats, which is
// answered from inside the run loop over a channel so other goroutines
// (such as a metrics scrape) can call it without racing the router.
type Broker struct {
	logger *zap.Logger
	sock   zmq4.Socket

	services map[string]*service
	workers  map[string]*peerWorker
	waiting  *list.List // of *peerWorker, ordered oldest-expiry-first

	heartbeatAt time.Time

	msgCh   chan zmq4.Msg
	errCh   chan error
	statsCh chan chan Stats
}

// NewBroker constructs a Broker. Call Bind before Run.
func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		logger:   logger.Named("broker"),
		services: make(map[string]*service),
		workers:  make(map[string]*peerWorker),
		waiting:  list.New(),
		msgCh:    make(chan zmq4.Msg),
		errCh:    make(chan error, 1),
		statsCh:  make(chan chan Stats),
	}
}

// Bind opens a ROUTER socket and binds it to endpoint (e.g. "tcp://*:5555").
// It starts a background goroutine that feeds received messages into the
// broker's run loop; Bind may be followed immediately by Run.
func (b *Broker) Bind(ctx context.Context, endpoint string) error {
	b.sock = zmq4.NewRouter(ctx)
	if err := b.sock.Listen(endpoint); err != nil {
		return fmt.Errorf("mdp: broker bind %s: %w", endpoint, err)
	}
	b.logger.Info("broker bound", zap.String("endpoint", endpoint))

	go func() {
		for {
			msg, err := b.sock.Recv()
			if err != nil {
				select {
				case b.errCh <- err:
				case <-ctx.Done():
				}
				return
			}
			select {
			case b.msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Run is the broker's main event loop. It blocks until ctx is cancelled or
// the transport fails irrecoverably, running one mediation step per
// iteration: receive-with-timeout, route, purge expired workers, emit
// heartbeats if due.
func (b *Broker) Run(ctx context.Context) error {
	b.heartbeatAt = time.Now().Add(HeartbeatInterval)

	for {
		select {
		case <-ctx.Done():
			b.close()
			return ctx.Err()
		case err := <-b.errCh:
			b.close()
			return fmt.Errorf("mdp: broker recv: %w", err)
		case msg := <-b.msgCh:
			b.route(msg.Frames)
		case reply := <-b.statsCh:
			reply <- b.snapshotStats()
		case <-time.After(HeartbeatInterval):
		}

		b.purgeWorkers()

		if !time.Now().Before(b.heartbeatAt) {
			b.sendHeartbeats()
			b.heartbeatAt = time.Now().Add(HeartbeatInterval)
		}
	}
}

func (b *Broker) close() {
	if b.sock != nil {
		_ = b.sock.Close()
	}
}

func (b *Broker) send(frames [][]byte) {
	if err := b.sock.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		b.logger.Warn("send failed", zap.Error(err))
	}
}

// route peels the sender address, empty delimiter, and protocol-family
// frame off an inbound message and hands the remainder to the client or
// worker branch.
func (b *Broker) route(frames [][]byte) {
	if len(frames) < 3 {
		b.logger.Warn("dropping malformed message", zap.Int("frames", len(frames)))
		return
	}

	sender := frames[0]
	empty := frames[1]
	header := frames[2]
	body := frames[3:]

	if len(empty) != 0 {
		b.logger.Warn("dropping message with non-empty delimiter frame")
		return
	}

	switch {
	case bytes.Equal(header, clientProtocol):
		b.processClient(sender, body)
	case bytes.Equal(header, workerProtocol):
		b.processWorker(sender, body)
	default:
		b.logger.Error("dropping message with unknown protocol family")
	}
}

// processClient handles a request arriving from a client: internal "mmi."
// services are answered inline; everything else is queued and dispatched.
func (b *Broker) processClient(sender []byte, msg [][]byte) {
	if len(msg) < 1 {
		b.logger.Warn("dropping client message with no service frame")
		return
	}

	serviceName := string(msg[0])
	envelope := append([][]byte{append([]byte(nil), sender...), {}}, msg[1:]...)

	if strings.HasPrefix(serviceName, internalServicePrefix) {
		b.handleInternalService(serviceName, envelope)
		return
	}

	b.dispatch(b.requireService(serviceName), envelope)
}

// handleInternalService answers a request to a "mmi."-prefixed service
// without ever reaching a worker. mmi.service reports whether the named
// service (its last body frame) currently has at least one registered
// worker; any other internal service reports 501.
func (b *Broker) handleInternalService(serviceName string, envelope [][]byte) {
	client := envelope[0]
	status := []byte("501")

	if serviceName == "mmi.service" {
		status = []byte("404")
		if len(envelope) > 2 {
			name := string(envelope[len(envelope)-1])
			if svc, ok := b.services[name]; ok && svc.workerCnt > 0 {
				status = []byte("200")
			}
		}
	}

	reply := [][]byte{client, {}, clientProtocol, []byte(serviceName), status}
	b.send(reply)
}

// requireService returns the named service, lazily creating it on first
// reference (by a client request or a worker READY).
func (b *Broker) requireService(name string) *service {
	if svc, ok := b.services[name]; ok {
		return svc
	}
	svc := &service{name: name, requests: list.New(), waiting: list.New()}
	b.services[name] = svc
	return svc
}

// dispatch queues envelope (if non-nil) onto the service's request queue,
// purges expired workers, then pairs up waiting workers with queued
// requests FIFO-on-both-sides until either side runs dry. Called both when
// a new request arrives and when a worker becomes idle.
func (b *Broker) dispatch(svc *service, envelope [][]byte) {
	if envelope != nil {
		svc.requests.PushBack(envelope)
	}
	b.purgeWorkers()

	for svc.waiting.Len() > 0 && svc.requests.Len() > 0 {
		reqElem := svc.requests.Front()
		svc.requests.Remove(reqElem)
		req := reqElem.Value.([][]byte)

		wElem := svc.waiting.Front()
		svc.waiting.Remove(wElem)
		w := wElem.Value.(*peerWorker)
		w.svcElem = nil

		if w.brokerElem != nil {
			b.waiting.Remove(w.brokerElem)
			w.brokerElem = nil
		}

		frames := append([][]byte{w.address, {}, workerProtocol, cmdRequest}, req...)
		b.send(frames)
	}
}

// purgeWorkers removes expired workers from the front of the broker-wide
// waiting queue. Because the queue is monotone by age (workers are
// appended when they become idle and their expiry always advances by the
// same fixed interval), the first non-expired worker means every worker
// behind it is also non-expired, so the scan can stop there.
func (b *Broker) purgeWorkers() {
	now := time.Now()
	for b.waiting.Len() > 0 {
		front := b.waiting.Front()
		w := front.Value.(*peerWorker)
		if w.expiry.After(now) {
			break
		}

		b.logger.Debug("purging expired worker", zap.String("identity", w.identity))
		if w.svc != nil {
			if w.svcElem != nil {
				w.svc.waiting.Remove(w.svcElem)
			}
			w.svc.workerCnt--
		}
		delete(b.workers, w.identity)
		b.waiting.Remove(front)
	}
}

// processWorker dispatches a message from a known transport identity to
// the appropriate command handler, creating a bookkeeping record for the
// identity on its first message regardless of command.
func (b *Broker) processWorker(sender []byte, msg [][]byte) {
	if len(msg) < 1 {
		b.logger.Warn("dropping worker message with no command frame")
		return
	}

	command := msg[0]
	rest := msg[1:]
	identity := hex.EncodeToString(sender)

	alreadyKnown := b.workers[identity] != nil
	w := b.workers[identity]
	if w == nil {
		w = &peerWorker{
			identity: identity,
			address:  append([]byte(nil), sender...),
			expiry:   time.Now().Add(HeartbeatExpiry),
		}
		b.workers[identity] = w
		b.logger.Debug("registering new worker", zap.String("identity", identity))
	}

	switch {
	case bytes.Equal(command, cmdReady):
		if len(rest) < 1 {
			b.deleteWorker(w, true)
			return
		}
		serviceName := string(rest[0])
		if alreadyKnown || strings.HasPrefix(serviceName, internalServicePrefix) {
			b.deleteWorker(w, true)
			return
		}
		w.svc = b.requireService(serviceName)
		w.svc.workerCnt++
		b.workerWaiting(w)

	case bytes.Equal(command, cmdReply):
		if !alreadyKnown {
			b.deleteWorker(w, true)
			return
		}
		if len(rest) < 2 {
			b.deleteWorker(w, true)
			return
		}
		client := rest[0]
		empty := rest[1]
		if len(empty) != 0 {
			b.deleteWorker(w, true)
			return
		}
		body := rest[2:]
		reply := append([][]byte{client, {}, clientProtocol, []byte(w.svc.name)}, body...)
		b.send(reply)
		b.workerWaiting(w)

	case bytes.Equal(command, cmdHeartbeat):
		if !alreadyKnown {
			b.deleteWorker(w, true)
			return
		}
		w.expiry = time.Now().Add(HeartbeatExpiry)

	case bytes.Equal(command, cmdDisconnect):
		b.deleteWorker(w, false)

	default:
		b.logger.Error("invalid worker command", zap.String("identity", identity))
	}
}

// deleteWorker removes w from every tracking structure and, if disconnect
// is set, tells the worker to reconnect by sending it a DISCONNECT frame
// (used for protocol violations; a worker-initiated DISCONNECT is not
// echoed back).
func (b *Broker) deleteWorker(w *peerWorker, disconnect bool) {
	if disconnect {
		b.send([][]byte{w.address, {}, workerProtocol, cmdDisconnect})
	}
	if w.svc != nil {
		if w.svcElem != nil {
			w.svc.waiting.Remove(w.svcElem)
		}
		w.svc.workerCnt--
	}
	if w.brokerElem != nil {
		b.waiting.Remove(w.brokerElem)
	}
	delete(b.workers, w.identity)
}

// workerWaiting marks w idle: it joins both the broker-wide and
// service-local waiting queues, its expiry is refreshed, and a dispatch
// pass runs immediately in case a request is already queued.
func (b *Broker) workerWaiting(w *peerWorker) {
	w.brokerElem = b.waiting.PushBack(w)
	w.svcElem = w.svc.waiting.PushBack(w)
	w.expiry = time.Now().Add(HeartbeatExpiry)
	b.dispatch(w.svc, nil)
}

// sendHeartbeats sends a HEARTBEAT frame to every currently idle worker.
func (b *Broker) sendHeartbeats() {
	for e := b.waiting.Front(); e != nil; e = e.Next() {
		w := e.Value.(*peerWorker)
		b.send([][]byte{w.address, {}, workerProtocol, cmdHeartbeat})
	}
}

// ServiceNames returns the names of all services the broker currently
// knows about, including those with no idle workers. Intended for
// diagnostics and metrics, not for the hot path.
func (b *Broker) ServiceNames() []string {
	names := make([]string, 0, len(b.services))
	for name := range b.services {
		names = append(names, name)
	}
	return names
}

// Stats reports a point-in-time snapshot of broker load, for metrics
// exporters.
type Stats struct {
	Services        int
	Workers         int
	IdleWorkers     int
	QueuedByService map[string]int
}

// Stats asks the run loop for a snapshot of the broker's current load and
// blocks until it answers or ctx is done. Safe to call concurrently with
// Run from another goroutine (e.g. a metrics scrape): the snapshot itself
// is always computed inside Run, which is the only goroutine that ever
// touches b.services/b.workers/b.waiting.
func (b *Broker) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case b.statsCh <- reply:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}

	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// snapshotStats builds the Stats value. Called only from within Run.
func (b *Broker) snapshotStats() Stats {
	s := Stats{
		Services:        len(b.services),
		Workers:         len(b.workers),
		IdleWorkers:     b.waiting.Len(),
		QueuedByService: make(map[string]int, len(b.services)),
	}
	for name, svc := range b.services {
		s.QueuedByService[name] = svc.requests.Len()
	}
	return s
}

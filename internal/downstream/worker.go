// Package downstream implements DownstreamWorker (spec.md §4.6): one
// connection to an upstream peer, stepping through
// CONNECTING -> HIYA_SENT -> SUBSCRIBED -> RECEIVING, inserting every fully
// assembled product into the local product queue.
package downstream

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/Unidata/LDM-sub012/internal/pq"
	"github.com/Unidata/LDM-sub012/internal/pq/sigcache"
	"github.com/Unidata/LDM-sub012/internal/product"
	"github.com/Unidata/LDM-sub012/internal/productclass"
	"github.com/Unidata/LDM-sub012/internal/wire"
)

// State is this connection's position in the handshake/streaming machine.
type State int

const (
	StateConnecting State = iota
	StateHiyaSent
	StateSubscribed
	StateReceiving
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHiyaSent:
		return "HIYA_SENT"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateReceiving:
		return "RECEIVING"
	default:
		return "UNKNOWN"
	}
}

// Conn is the subset of *wire.Conn this worker depends on.
type Conn interface {
	Send(kind wire.Kind, payload any) error
	Receive(out any) (wire.Kind, error)
	SetDeadline(d time.Duration) error
	Close() error
}

// Dialer opens a fresh connection to the upstream peer.
type Dialer func(ctx context.Context) (Conn, error)

// Breaker is the narrow circuit-breaker contract, matched structurally by
// sony/gobreaker's *gobreaker.CircuitBreaker.
type Breaker interface {
	Execute(func() (any, error)) (any, error)
}

// Worker owns one upstream connection and feeds its assembled products into
// Queue. Class narrows in place on RECLASS.
type Worker struct {
	PeerAddress string
	Dial        Dialer
	Queue       *pq.ProductQueue
	Class       *productclass.Class
	Breaker     Breaker
	// SigCache, if set, is consulted before every insert to skip the
	// replayed tail of a flapping upstream connection without taking the
	// queue's signature-index lock. Nil disables the accelerator.
	SigCache *sigcache.Cache

	// OnReceived, if set, is called after a product is newly inserted into
	// Queue (not on a signature-cache or queue-level duplicate) — a daemon
	// wires this to its received-products counter.
	OnReceived func(peerAddress string)

	// OnReconnect, if set, is called each time a connection/handshake
	// attempt fails and the worker backs off before retrying.
	OnReconnect func(peerAddress string)

	state      State
	backoff    *backoffCalculator
	assembling map[product.Signature]*partialProduct
}

type partialProduct struct {
	info product.Info
	buf  []byte
	want uint32
}

// New constructs a Worker offering class to the upstream on connect.
func New(peerAddress string, dial Dialer, queue *pq.ProductQueue, class *productclass.Class, breaker Breaker) *Worker {
	return &Worker{
		PeerAddress: peerAddress,
		Dial:        dial,
		Queue:       queue,
		Class:       class,
		Breaker:     breaker,
		backoff:     newBackoffCalculator(time.Second, 30*time.Second, 2.0),
		assembling:  make(map[product.Signature]*partialProduct),
	}
}

// State reports the worker's current handshake/streaming state.
func (w *Worker) State() State { return w.state }

// Run connects and streams until ctx is canceled, reconnecting with capped
// exponential backoff and jitter on any connection or handshake failure.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.runOnce(ctx); err != nil {
			if w.OnReconnect != nil {
				w.OnReconnect(w.PeerAddress)
			}
			delay := w.backoff.NextDelay()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		w.backoff.Reset()
	}
}

func (w *Worker) runOnce(ctx context.Context) error {
	w.state = StateConnecting
	conn, err := w.Dial(ctx)
	if err != nil {
		return fmt.Errorf("downstream: dial %s: %w", w.PeerAddress, err)
	}
	defer conn.Close()

	if err := w.handshake(conn); err != nil {
		return err
	}

	w.state = StateReceiving
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if _, err := w.receiveOne(conn); err != nil {
			return fmt.Errorf("downstream: receive from %s: %w", w.PeerAddress, err)
		}
	}
}

func (w *Worker) handshake(conn Conn) error {
	w.state = StateHiyaSent
	if err := conn.Send(wire.KindHiya, wire.Hiya{ClassOffered: wire.ToRawClass(w.Class)}); err != nil {
		return fmt.Errorf("downstream: send HIYA to %s: %w", w.PeerAddress, err)
	}
	var reply wire.HiyaReply
	if _, err := conn.Receive(&reply); err != nil {
		return fmt.Errorf("downstream: receive HIYA reply from %s: %w", w.PeerAddress, err)
	}
	if reply.Reclass != nil {
		narrowed, err := reply.Reclass.ToClass()
		if err != nil {
			return fmt.Errorf("downstream: decode reclass from %s: %w", w.PeerAddress, err)
		}
		w.Class = narrowed
	}
	w.state = StateSubscribed
	return nil
}

// receiveOne reads and handles exactly one frame, inserting completed
// products into Queue. DUPLICATE and TOO_BIG from the queue are swallowed,
// never propagated as connection errors — spec.md §4.6 treats both as
// expected steady state, not failures.
func (w *Worker) receiveOne(conn Conn) (wire.Kind, error) {
	var raw json.RawMessage
	kind, err := conn.Receive(&raw)
	if err != nil {
		return kind, err
	}

	switch kind {
	case wire.KindHereis:
		var msg wire.Hereis
		if err := json.Unmarshal(raw, &msg); err != nil {
			return kind, fmt.Errorf("downstream: decode HEREIS: %w", err)
		}
		w.insert(msg.Info, msg.Payload)

	case wire.KindComingSoon:
		var msg wire.ComingSoon
		if err := json.Unmarshal(raw, &msg); err != nil {
			return kind, fmt.Errorf("downstream: decode COMINGSOON: %w", err)
		}
		w.assembling[msg.Info.Signature] = &partialProduct{info: msg.Info, want: msg.Size}
		if err := conn.Send(wire.KindComingSoonReply, wire.ComingSoonReply{OK: true}); err != nil {
			return kind, fmt.Errorf("downstream: ack COMINGSOON: %w", err)
		}

	case wire.KindBlkData:
		var msg wire.BlkData
		if err := json.Unmarshal(raw, &msg); err != nil {
			return kind, fmt.Errorf("downstream: decode BLKDATA: %w", err)
		}
		p, ok := w.assembling[msg.Signature]
		if !ok {
			break
		}
		if int(msg.Offset) == len(p.buf) {
			p.buf = append(p.buf, msg.Bytes...)
		}
		if uint32(len(p.buf)) >= p.want {
			w.insert(p.info, p.buf)
			delete(w.assembling, msg.Signature)
		}

	case wire.KindNotification:
		// Informational only; no queue state to update.
	}
	return kind, nil
}

func (w *Worker) insert(info product.Info, payload []byte) {
	ctx := context.Background()
	if w.SigCache != nil && w.SigCache.MightContain(ctx, info.Signature) {
		return
	}
	if err := w.Queue.Insert(info, payload); err != nil {
		return
	}
	if w.SigCache != nil {
		w.SigCache.Remember(ctx, info.Signature)
	}
	if w.OnReceived != nil {
		w.OnReceived(w.PeerAddress)
	}
}

type backoffCalculator struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	retryCount int
}

func newBackoffCalculator(initial, max time.Duration, multiplier float64) *backoffCalculator {
	return &backoffCalculator{initial: initial, max: max, multiplier: multiplier}
}

func (b *backoffCalculator) NextDelay() time.Duration {
	delay := time.Duration(float64(b.initial) * math.Pow(b.multiplier, float64(b.retryCount)))
	if delay > b.max {
		delay = b.max
	}
	jitter := time.Duration(float64(delay) * 0.25 * rand.Float64())
	b.retryCount++
	return delay + jitter
}

func (b *backoffCalculator) Reset() {
	b.retryCount = 0
}

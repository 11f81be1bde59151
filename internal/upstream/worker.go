// Package upstream implements UpstreamWorker (spec.md §4.5): one goroutine
// per subscribed downstream peer that scans the product queue from the
// peer's cursor, applies the peer's reduced subscription class plus its
// fine-grained ALLOW exclusions, and frames matching products onto the
// peer's wire connection.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/Unidata/LDM-sub012/internal/pq"
	"github.com/Unidata/LDM-sub012/internal/product"
	"github.com/Unidata/LDM-sub012/internal/wire"
)

// Mode selects how a product's bytes reach the peer.
type Mode int

const (
	// ModePrimary sends each product as a single HEREIS frame.
	ModePrimary Mode = iota
	// ModeAlternate announces with COMINGSOON, waits for accept/DONT_SEND,
	// then streams the payload as one or more BLKDATA frames.
	ModeAlternate
)

// BlockSize bounds a single BLKDATA frame's payload in alternate mode.
const BlockSize = 1 << 16

// Sender is the subset of *wire.Conn this worker depends on, narrowed so
// tests can substitute an in-memory double.
type Sender interface {
	Send(kind wire.Kind, payload any) error
	Receive(out any) (wire.Kind, error)
	SetDeadline(d time.Duration) error
	Close() error
}

// Worker drives one peer subscription until its context is canceled or the
// connection fails.
type Worker struct {
	PeerAddress string
	Conn        Sender
	Filter      pq.Matcher
	Queue       *pq.ProductQueue
	Mode        Mode
	Limiter     *rate.Limiter
	Breaker     Breaker
	SuspendWait time.Duration

	// OnOverrun, if set, is called whenever a scan reports that this
	// peer's cursor fell behind the queue's oldest retained product —
	// the gap spec.md §5 describes slow consumers seeing at their next
	// suspend wake-up. Left nil, overruns are silently absorbed; a
	// daemon wires this to its logger/metrics.
	OnOverrun func(peerAddress string)

	// OnSent, if set, is called after each product is successfully framed
	// onto the peer's connection, naming the delivery mode used — a
	// daemon wires this to its sent-products counter.
	OnSent func(peerAddress string, mode Mode)

	cursor pq.Cursor
}

// Breaker is the narrow circuit-breaker contract this worker needs, matched
// structurally by sony/gobreaker's *gobreaker.CircuitBreaker.
type Breaker interface {
	Execute(func() (any, error)) (any, error)
}

// New constructs a Worker that scans from just after start (spec.md §4.5
// step 1); it does not itself resolve a signature hint to a position.
func New(peerAddress string, conn Sender, filter pq.Matcher, queue *pq.ProductQueue, mode Mode, start pq.Cursor, limiter *rate.Limiter, breaker Breaker) *Worker {
	return &Worker{
		PeerAddress: peerAddress,
		Conn:        conn,
		Filter:      filter,
		Queue:       queue,
		Mode:        mode,
		Limiter:     limiter,
		Breaker:     breaker,
		SuspendWait: 5 * time.Second,
		cursor:      start,
	}
}

// Run drives the worker's scan/send loop until ctx is canceled or a socket
// error terminates it (spec.md §4.5 steps 2-6).
func (w *Worker) Run(ctx context.Context) error {
	defer w.Conn.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		next, _, overrun, err := w.Queue.Next(w.cursor, w.Filter, func(p product.Product) error {
			return w.sendProduct(p)
		})
		if overrun && w.OnOverrun != nil {
			w.OnOverrun(w.PeerAddress)
		}
		if err != nil {
			if errors.Is(err, pq.ErrEndOfQueue) {
				w.cursor = next
				if suspendErr := w.Queue.Suspend(ctx, w.SuspendWait); suspendErr != nil && ctx.Err() == nil {
					return fmt.Errorf("upstream: suspend for %s: %w", w.PeerAddress, suspendErr)
				}
				continue
			}
			return fmt.Errorf("upstream: scan for %s: %w", w.PeerAddress, err)
		}
		w.cursor = next
	}
}

// sendProduct applies the fine-grained ALLOW exclusion regex (already
// folded into Filter via accesscontrol.FilteredClass) and frames the
// product per Mode.
func (w *Worker) sendProduct(p product.Product) error {
	if w.Limiter != nil {
		if err := w.Limiter.Wait(context.Background()); err != nil {
			return fmt.Errorf("upstream: rate limiter: %w", err)
		}
	}

	send := func() (any, error) {
		switch w.Mode {
		case ModeAlternate:
			return nil, w.sendAlternate(p)
		default:
			return nil, w.Conn.Send(wire.KindHereis, wire.Hereis{Info: p.Info, Payload: p.Payload})
		}
	}

	var err error
	if w.Breaker != nil {
		_, err = w.Breaker.Execute(send)
	} else {
		_, err = send()
	}
	if err == nil && w.OnSent != nil {
		w.OnSent(w.PeerAddress, w.Mode)
	}
	return err
}

func (w *Worker) sendAlternate(p product.Product) error {
	if err := w.Conn.Send(wire.KindComingSoon, wire.ComingSoon{Info: p.Info, Size: uint32(len(p.Payload))}); err != nil {
		return fmt.Errorf("comingsoon: %w", err)
	}
	var reply wire.ComingSoonReply
	if _, err := w.Conn.Receive(&reply); err != nil {
		return fmt.Errorf("comingsoon reply: %w", err)
	}
	if reply.DontSend || !reply.OK {
		return nil
	}
	for offset := 0; offset < len(p.Payload); offset += BlockSize {
		end := offset + BlockSize
		if end > len(p.Payload) {
			end = len(p.Payload)
		}
		blk := wire.BlkData{Signature: p.Info.Signature, Offset: uint32(offset), Bytes: p.Payload[offset:end]}
		if err := w.Conn.Send(wire.KindBlkData, blk); err != nil {
			return fmt.Errorf("blkdata at offset %d: %w", offset, err)
		}
	}
	return nil
}

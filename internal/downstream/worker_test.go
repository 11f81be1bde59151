package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Unidata/LDM-sub012/internal/pq"
	"github.com/Unidata/LDM-sub012/internal/product"
	"github.com/Unidata/LDM-sub012/internal/productclass"
	"github.com/Unidata/LDM-sub012/internal/wire"
)

// scriptedConn replays a fixed sequence of (kind, payload) frames to
// Receive and records whatever is sent to it.
type scriptedConn struct {
	script []scriptedFrame
	pos    int
	sent   []wire.Kind
	closed bool
}

type scriptedFrame struct {
	kind    wire.Kind
	payload any
}

func (c *scriptedConn) Send(kind wire.Kind, _ any) error {
	c.sent = append(c.sent, kind)
	return nil
}

func (c *scriptedConn) Receive(out any) (wire.Kind, error) {
	if c.pos >= len(c.script) {
		return 0, errors.New("scriptedConn: script exhausted")
	}
	frame := c.script[c.pos]
	c.pos++
	body, err := json.Marshal(frame.payload)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return 0, err
	}
	return frame.kind, nil
}

func (c *scriptedConn) SetDeadline(time.Duration) error { return nil }
func (c *scriptedConn) Close() error                    { c.closed = true; return nil }

func testClass(t *testing.T) *productclass.Class {
	t.Helper()
	cls, err := productclass.New(productclass.Zero, productclass.End, []productclass.RawSpec{
		{Mask: 0x1, Pattern: ".*"},
	})
	if err != nil {
		t.Fatalf("class: %v", err)
	}
	return cls
}

func newTestQueue(t *testing.T) *pq.ProductQueue {
	t.Helper()
	q, err := pq.Create(filepath.Join(t.TempDir(), "queue.pq"), 16, 1<<20)
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestHandshakeAppliesReclass(t *testing.T) {
	narrower, err := productclass.New(productclass.Zero, productclass.End, []productclass.RawSpec{
		{Mask: 0x1, Pattern: "^SFUS.*"},
	})
	if err != nil {
		t.Fatalf("narrower: %v", err)
	}
	conn := &scriptedConn{script: []scriptedFrame{
		{kind: wire.KindHiyaReply, payload: wire.HiyaReply{OK: true, Reclass: ptr(wire.ToRawClass(narrower))}},
	}}

	w := New("upstream-a", func(context.Context) (Conn, error) { return conn, nil }, newTestQueue(t), testClass(t), nil)
	if err := w.handshake(conn); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if w.State() != StateSubscribed {
		t.Fatalf("expected StateSubscribed, got %s", w.State())
	}
	if !w.Class.Equal(narrower) {
		t.Fatalf("expected class to narrow to reclass value")
	}
}

func TestReceiveOneInsertsHereis(t *testing.T) {
	q := newTestQueue(t)
	var sig product.Signature
	sig[0] = 9
	conn := &scriptedConn{script: []scriptedFrame{
		{kind: wire.KindHereis, payload: wire.Hereis{
			Info:    product.Info{Signature: sig, Identifier: "p", Feedtype: 1, ArrivalTimestamp: time.Now()},
			Payload: []byte("data"),
		}},
	}}
	w := New("upstream-b", nil, q, testClass(t), nil)
	if _, err := w.receiveOne(conn); err != nil {
		t.Fatalf("receiveOne: %v", err)
	}

	var delivered bool
	_, delivered, _, err := q.Next(pq.ZeroCursor, allMatcher{}, func(p product.Product) error {
		if string(p.Payload) != "data" {
			t.Fatalf("unexpected payload: %q", p.Payload)
		}
		return nil
	})
	if err != nil || !delivered {
		t.Fatalf("expected inserted product to be deliverable: delivered=%v err=%v", delivered, err)
	}
}

func TestReceiveOneAssemblesBlkData(t *testing.T) {
	q := newTestQueue(t)
	var sig product.Signature
	sig[0] = 7
	info := product.Info{Signature: sig, Identifier: "p", Feedtype: 1, ArrivalTimestamp: time.Now()}
	conn := &scriptedConn{script: []scriptedFrame{
		{kind: wire.KindComingSoon, payload: wire.ComingSoon{Info: info, Size: 6}},
		{kind: wire.KindBlkData, payload: wire.BlkData{Signature: sig, Offset: 0, Bytes: []byte("abc")}},
		{kind: wire.KindBlkData, payload: wire.BlkData{Signature: sig, Offset: 3, Bytes: []byte("def")}},
	}}
	w := New("upstream-c", nil, q, testClass(t), nil)
	for i := 0; i < 3; i++ {
		if _, err := w.receiveOne(conn); err != nil {
			t.Fatalf("receiveOne[%d]: %v", i, err)
		}
	}
	if len(conn.sent) != 1 || conn.sent[0] != wire.KindComingSoonReply {
		t.Fatalf("expected one COMINGSOON_REPLY ack, got %v", conn.sent)
	}

	_, delivered, _, err := q.Next(pq.ZeroCursor, allMatcher{}, func(p product.Product) error {
		if string(p.Payload) != "abcdef" {
			t.Fatalf("unexpected assembled payload: %q", p.Payload)
		}
		return nil
	})
	if err != nil || !delivered {
		t.Fatalf("expected assembled product delivered: delivered=%v err=%v", delivered, err)
	}
	if len(w.assembling) != 0 {
		t.Fatalf("expected assembling map cleared, got %d entries", len(w.assembling))
	}
}

func TestBackoffCalculatorCapsAndGrows(t *testing.T) {
	b := newBackoffCalculator(10*time.Millisecond, 40*time.Millisecond, 2.0)
	first := b.NextDelay()
	second := b.NextDelay()
	third := b.NextDelay()
	if first >= second {
		t.Fatalf("expected delays to grow: %v vs %v", first, second)
	}
	if third > 50*time.Millisecond {
		t.Fatalf("expected delay capped near max with jitter, got %v", third)
	}
	b.Reset()
	if b.retryCount != 0 {
		t.Fatalf("expected reset to zero retry count")
	}
}

type allMatcher struct{}

func (allMatcher) Match(product.Info) bool { return true }

func ptr[T any](v T) *T { return &v }

package pqact

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/Unidata/LDM-sub012/internal/cursor"
	"github.com/Unidata/LDM-sub012/internal/pq"
	"github.com/Unidata/LDM-sub012/internal/product"
)

func sigFor(b byte) product.Signature {
	var s product.Signature
	for i := range s {
		s[i] = b
	}
	return s
}

func newTestStore(t *testing.T, dir string) *cursor.FileStore {
	t.Helper()
	store, err := cursor.NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestQueue(t *testing.T) *pq.ProductQueue {
	t.Helper()
	dir := t.TempDir()
	q, err := pq.Create(filepath.Join(dir, "queue.pq"), 64, 1<<20)
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEngineProcessDispatchesFirstMatch(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t)
	store := newTestStore(t, dir)
	d := NewDispatcher(4, 0, nil)

	outPath := filepath.Join(dir, "out.dat")
	table := []*Rule{
		{FeedtypeMask: 0x1, Pattern: "^SFUS", Regex: mustCompile(t, "^SFUS"), Action: ActionFile, Template: outPath},
	}
	e := New(q, d, store, "engine-a", table)
	e.SuspendFor = 10 * time.Millisecond

	info := product.Info{Signature: sigFor(1), Feedtype: 0x1, Identifier: "SFUS12"}
	if err := q.Insert(info, []byte("hello")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := e.process(product.Product{Info: info, Payload: []byte("hello")}); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected dispatched payload, got %q", got)
	}
}

func TestEngineProcessFallsBackToElse(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t)
	store := newTestStore(t, dir)
	d := NewDispatcher(4, 0, nil)

	elseOut := filepath.Join(dir, "else.dat")
	table := []*Rule{
		{FeedtypeMask: 0x1, Pattern: "^NOMATCH", Regex: mustCompile(t, "^NOMATCH"), Action: ActionNoop},
		{Pattern: elsePattern, Regex: nil, Action: ActionFile, Template: elseOut},
	}
	e := New(q, d, store, "engine-b", table)

	info := product.Info{Feedtype: 0x1, Identifier: "SFUS99"}
	if err := e.process(product.Product{Info: info, Payload: []byte("fallback")}); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := os.ReadFile(elseOut)
	if err != nil {
		t.Fatalf("expected else rule to fire: %v", err)
	}
	if string(got) != "fallback" {
		t.Fatalf("unexpected else output: %q", got)
	}
}

func TestEngineProcessSkipsElseForUnderscoreIdentifiers(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t)
	store := newTestStore(t, dir)
	d := NewDispatcher(4, 0, nil)

	elseOut := filepath.Join(dir, "else.dat")
	table := []*Rule{
		{Pattern: elsePattern, Regex: nil, Action: ActionFile, Template: elseOut},
	}
	e := New(q, d, store, "engine-c", table)

	info := product.Info{Feedtype: 0x1, Identifier: "_internal"}
	if err := e.process(product.Product{Info: info, Payload: []byte("x")}); err != nil {
		t.Fatalf("process: %v", err)
	}

	if _, err := os.Stat(elseOut); !os.IsNotExist(err) {
		t.Fatalf("expected else rule not to fire for underscore identifier")
	}
}

func TestEngineTransientRuleRemovedAfterFailure(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t)
	store := newTestStore(t, dir)
	d := NewDispatcher(4, 0, nil)

	badPath := filepath.Join(dir, "missing-parent", "out.dat")
	rule := &Rule{FeedtypeMask: 0x1, Pattern: "^SFUS", Regex: mustCompile(t, "^SFUS"), Action: ActionFile, Template: badPath, Transient: true}
	e := New(q, d, store, "engine-d", []*Rule{rule})

	info := product.Info{Feedtype: 0x1, Identifier: "SFUS1"}
	if err := e.process(product.Product{Info: info, Payload: []byte("x")}); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(e.Rules()) != 0 {
		t.Fatalf("expected transient rule to be removed after failed dispatch, got %d rules", len(e.Rules()))
	}
}

func TestEngineRunPersistsCursorAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t)
	store := newTestStore(t, dir)
	d := NewDispatcher(4, 0, nil)

	outPath := filepath.Join(dir, "out.dat")
	table := []*Rule{
		{FeedtypeMask: 0x1, Pattern: "^SFUS", Regex: mustCompile(t, "^SFUS"), Action: ActionFile, Template: outPath},
	}

	info := product.Info{Signature: sigFor(3), Feedtype: 0x1, Identifier: "SFUS-run"}
	if err := q.Insert(info, []byte("payload")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	e := New(q, d, store, "engine-e", table)
	e.SuspendFor = 10 * time.Millisecond
	// No cursor is saved yet, so start a minute back rather than at the
	// tail, which would skip the product inserted above.
	e.StartOffset = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	ts, ok, err := store.Load(context.Background(), "engine-e")
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if !ok {
		t.Fatalf("expected cursor to be persisted")
	}
	if !ts.After(time.Unix(0, 0)) {
		t.Fatalf("expected a meaningful saved timestamp, got %v", ts)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func mustCompile(t *testing.T, pattern string) *regexp.Regexp {
	t.Helper()
	re, err := regexp.Compile(pattern)
	if err != nil {
		t.Fatalf("compile %q: %v", pattern, err)
	}
	return re
}

package pqact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Unidata/LDM-sub012/internal/cursor"
	"github.com/Unidata/LDM-sub012/internal/pq"
	"github.com/Unidata/LDM-sub012/internal/product"
)

// allMatcher lets the engine scan every product in the queue; the rule
// table itself does the filtering spec.md §4.3's ProductClass performs for
// subscription-based consumers.
type allMatcher struct{}

func (allMatcher) Match(product.Info) bool { return true }

// Engine consumes Queue from a durable cursor, matching every product
// against Table in order and running the action of every matching rule
// (plus `_ELSE_` per spec.md §4.7 step 2).
type Engine struct {
	Queue      *pq.ProductQueue
	Dispatcher *Dispatcher
	Store      cursor.Store
	StateKey   string
	SuspendFor time.Duration
	Now        func() time.Time

	// StartOffset positions a first-ever run (no saved cursor) at
	// Now()-StartOffset instead of the queue's tail, the pqact `-o offset`
	// flag of spec.md §6. Zero keeps the default tail-start behavior.
	StartOffset time.Duration

	mu    sync.Mutex
	table []*Rule
}

// New constructs an Engine over table, persisting its cursor under
// stateKey in store.
func New(queue *pq.ProductQueue, dispatcher *Dispatcher, store cursor.Store, stateKey string, table []*Rule) *Engine {
	return &Engine{
		Queue:      queue,
		Dispatcher: dispatcher,
		Store:      store,
		StateKey:   stateKey,
		SuspendFor: 5 * time.Second,
		Now:        time.Now,
		table:      table,
	}
}

// startCursor loads the durable position, falling back to the tail if
// nothing was saved or the saved value is in the future (spec.md §4.7).
func (e *Engine) startCursor(ctx context.Context) pq.Cursor {
	ts, ok, err := e.Store.Load(ctx, e.StateKey)
	if err != nil || !ok || ts.After(e.Now()) {
		if e.StartOffset > 0 {
			return pq.Cursor{Timestamp: e.Now().Add(-e.StartOffset)}
		}
		return pq.EndCursor
	}
	return pq.Cursor{Timestamp: ts}
}

// Run scans the queue from the durable cursor until ctx is canceled,
// dispatching matched products and saving the cursor after each one that
// was seen (matched or not — spec.md §4.3.2 step 5 lets a durable consumer
// like this one advance past non-matches too).
func (e *Engine) Run(ctx context.Context) error {
	c := e.startCursor(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		next, delivered, _, err := e.Queue.Next(c, allMatcher{}, func(p product.Product) error {
			return e.process(p)
		})
		if err != nil {
			if errors.Is(err, pq.ErrEndOfQueue) {
				c = next
				if serr := e.Queue.Suspend(ctx, e.SuspendFor); serr != nil && ctx.Err() == nil {
					return fmt.Errorf("pqact: suspend: %w", serr)
				}
				continue
			}
			return fmt.Errorf("pqact: scan: %w", err)
		}
		c = next
		if delivered {
			if serr := e.Store.Save(ctx, e.StateKey, c.Timestamp); serr != nil {
				return fmt.Errorf("pqact: save cursor: %w", serr)
			}
		}
	}
}

// process matches p against the rule table in order and dispatches the
// action of every matching rule, then `_ELSE_` if nothing else matched and
// the identifier isn't an internal ("_"-prefixed) product.
func (e *Engine) process(p product.Product) error {
	e.mu.Lock()
	table := e.table
	e.mu.Unlock()

	matched := false
	var transientFailures []int
	for i, rule := range table {
		if rule.isElse() {
			continue
		}
		if rule.FeedtypeMask&p.Info.Feedtype == 0 {
			continue
		}
		groups := rule.Regex.FindStringSubmatch(p.Info.Identifier)
		if groups == nil {
			continue
		}
		matched = true
		if err := e.run(rule, groups, p); err != nil && rule.Transient {
			transientFailures = append(transientFailures, i)
		}
	}

	if !matched && !strings.HasPrefix(p.Info.Identifier, "_") {
		for _, rule := range table {
			if rule.isElse() {
				if err := e.run(rule, nil, p); err != nil && rule.Transient {
					e.removeRule(rule)
				}
				break
			}
		}
	}

	if len(transientFailures) > 0 {
		e.removeIndices(transientFailures)
	}
	return nil
}

func (e *Engine) run(rule *Rule, groups []string, p product.Product) error {
	expanded := Expand(rule.Template, groups, p.Info, e.Now())
	return e.Dispatcher.Dispatch(rule, expanded, p.Payload)
}

func (e *Engine) removeRule(target *Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.table {
		if r == target {
			e.table = append(e.table[:i], e.table[i+1:]...)
			return
		}
	}
}

// removeIndices deletes the rules named by originally-observed indices,
// highest index first so earlier indices stay valid during removal.
func (e *Engine) removeIndices(indices []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(indices) - 1; i >= 0; i-- {
		idx := indices[i]
		if idx < len(e.table) {
			e.table = append(e.table[:idx], e.table[idx+1:]...)
		}
	}
}

// Rules returns a snapshot of the current rule table, for tests and
// introspection.
func (e *Engine) Rules() []*Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Rule, len(e.table))
	copy(out, e.table)
	return out
}

// ReplaceTable swaps in a freshly parsed rule table wholesale, the SIGHUP
// reload path of spec.md §5: transient rules removed mid-run by a prior
// failure are simply absent from the replacement if the config no longer
// lists them.
func (e *Engine) ReplaceTable(table []*Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.table = table
}

package pqact

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Unidata/LDM-sub012/internal/ldmconf"
)

// Dispatcher executes a matched rule's action. It owns the LRU pool of
// open stdiofile descriptors and the pipe-child registry shared across
// every rule. The stdiofile pool is bounded at maxOpenFiles (spec.md §4.7:
// "available_fds - reserved"); pipe children are not counted against it.
type Dispatcher struct {
	mu           sync.Mutex
	maxOpenFiles int
	files        map[string]*stdioFile
	lruOrder     []string
	pipes        map[string]*pipeChild
	pipeTimeout  time.Duration
	limiter      *rate.Limiter
	dbSink       dbSink
}

// WithDBSink attaches the destination for the `dbfile` action. Rules using
// that action before this is called fail with a descriptive error.
func (d *Dispatcher) WithDBSink(sink dbSink) *Dispatcher {
	d.dbSink = sink
	return d
}

type stdioFile struct {
	f *os.File
	w *bufio.Writer
}

type pipeChild struct {
	cmd   *exec.Cmd
	stdin *bufio.Writer
}

// NewDispatcher bounds the stdiofile LRU pool at maxOpenFiles and paces
// pipe writes at limiter, waiting at most pipeTimeout for each (nil
// disables pacing).
func NewDispatcher(maxOpenFiles int, pipeTimeout time.Duration, limiter *rate.Limiter) *Dispatcher {
	return &Dispatcher{
		maxOpenFiles: maxOpenFiles,
		files:        make(map[string]*stdioFile),
		pipes:        make(map[string]*pipeChild),
		pipeTimeout:  pipeTimeout,
		limiter:      limiter,
	}
}

// Dispatch runs rule's action against an already-expanded template and the
// product's payload bytes.
func (d *Dispatcher) Dispatch(rule *Rule, expanded string, payload []byte) error {
	switch rule.Action {
	case ActionNoop:
		return nil
	case ActionFile:
		return d.writeFileOnce(expanded, payload)
	case ActionStdioFile:
		return d.writeStdioFile(expanded, payload)
	case ActionPipe, ActionSpipe, ActionXpipe:
		return d.writePipe(expanded, payload)
	case ActionExec:
		return d.runExec(expanded, rule.Wait)
	case ActionDBFile:
		return d.writeDBFile(expanded, payload)
	default:
		return fmt.Errorf("pqact: %w: %q", ErrUnknownAction, rule.Action)
	}
}

// writeFileOnce opens, appends, and closes — no descriptor is retained
// across calls, matching the plain `file` action's one-shot semantics.
func (d *Dispatcher) writeFileOnce(path string, payload []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("pqact: open %q: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(payload); err != nil {
		return fmt.Errorf("pqact: write %q: %w", path, err)
	}
	return nil
}

// writeStdioFile keeps a buffered descriptor open across calls, evicting
// the least-recently-used entry when the pool is full.
func (d *Dispatcher) writeStdioFile(path string, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sf, ok := d.files[path]
	if !ok {
		if d.maxOpenFiles > 0 && len(d.files) >= d.maxOpenFiles {
			d.evictOldestLocked()
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("pqact: open %q: %w", path, err)
		}
		sf = &stdioFile{f: f, w: bufio.NewWriter(f)}
		d.files[path] = sf
	} else {
		d.touchLocked(path)
	}

	if _, err := sf.w.Write(payload); err != nil {
		d.closeAndForgetLocked(path)
		return fmt.Errorf("pqact: write %q: %w", path, err)
	}
	if err := sf.w.Flush(); err != nil {
		d.closeAndForgetLocked(path)
		return fmt.Errorf("pqact: flush %q: %w", path, err)
	}
	return nil
}

func (d *Dispatcher) touchLocked(path string) {
	for i, p := range d.lruOrder {
		if p == path {
			d.lruOrder = append(d.lruOrder[:i], d.lruOrder[i+1:]...)
			break
		}
	}
	d.lruOrder = append(d.lruOrder, path)
}

func (d *Dispatcher) evictOldestLocked() {
	if len(d.lruOrder) == 0 {
		return
	}
	oldest := d.lruOrder[0]
	d.lruOrder = d.lruOrder[1:]
	d.closeAndForgetLocked(oldest)
}

func (d *Dispatcher) closeAndForgetLocked(path string) {
	if sf, ok := d.files[path]; ok {
		sf.w.Flush()
		sf.f.Close()
		delete(d.files, path)
	}
	for i, p := range d.lruOrder {
		if p == path {
			d.lruOrder = append(d.lruOrder[:i], d.lruOrder[i+1:]...)
			break
		}
	}
}

// OpenFileCount reports how many stdiofile descriptors are currently held,
// for tests and metrics.
func (d *Dispatcher) OpenFileCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.files)
}

// writePipe forks the child named by the expanded command template on
// first use and writes payload to its stdin. When limiter is set, each
// write first waits for a limiter token for at most pipeTimeout. A failed
// write is not retried, and the write to stdin itself has no timeout.
func (d *Dispatcher) writePipe(cmdline string, payload []byte) error {
	argv := ldmconf.Tokenize(cmdline)
	if len(argv) == 0 {
		return fmt.Errorf("pqact: empty pipe command")
	}

	d.mu.Lock()
	pc, ok := d.pipes[cmdline]
	if !ok {
		cmd := exec.Command(argv[0], argv[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			d.mu.Unlock()
			return fmt.Errorf("pqact: pipe stdin for %q: %w", cmdline, err)
		}
		if err := cmd.Start(); err != nil {
			d.mu.Unlock()
			return fmt.Errorf("pqact: start pipe child %q: %w", cmdline, err)
		}
		pc = &pipeChild{cmd: cmd, stdin: bufio.NewWriter(stdin)}
		d.pipes[cmdline] = pc
	}
	d.mu.Unlock()

	if d.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.pipeTimeout)
		defer cancel()
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("pqact: pipe rate limit for %q: %w", cmdline, err)
		}
	}

	if _, err := pc.stdin.Write(payload); err != nil {
		d.mu.Lock()
		delete(d.pipes, cmdline)
		d.mu.Unlock()
		return fmt.Errorf("pqact: write to pipe %q: %w", cmdline, err)
	}
	return pc.stdin.Flush()
}

// runExec forks argv and optionally blocks until it exits.
func (d *Dispatcher) runExec(cmdline string, wait bool) error {
	argv := ldmconf.Tokenize(cmdline)
	if len(argv) == 0 {
		return fmt.Errorf("pqact: empty exec command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if wait {
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("pqact: exec %q: %w", cmdline, err)
		}
		return nil
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("pqact: exec %q: %w", cmdline, err)
	}
	go cmd.Wait()
	return nil
}

// Close shuts down every retained descriptor and pipe child.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path := range d.files {
		d.closeAndForgetLocked(path)
	}
	for key, pc := range d.pipes {
		pc.stdin.Flush()
		pc.cmd.Wait()
		delete(d.pipes, key)
	}
}

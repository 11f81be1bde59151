// Package subscription implements the SubscriptionManager: the process-wide
// registry of active upstream and downstream peer workers (spec.md §3's
// Subscriber/PeerProcess, §4.4 step 5, §4.5, §4.6). The original design
// forks one OS process per peer; this port runs one goroutine per peer
// instead and uses context cancellation as the portable equivalent of
// sending the peer's process a signal.
package subscription

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Unidata/LDM-sub012/internal/productclass"
)

// Role distinguishes which side of a connection a peer entry represents.
type Role int

const (
	RoleUpstream Role = iota
	RoleDownstream
)

// Mode distinguishes primary (HEREIS per product) from alternate
// (COMINGSOON/BLKDATA) delivery, per spec.md §4.5 step 3.
type Mode int

const (
	ModePrimary Mode = iota
	ModeAlternate
)

// Peer is one entry in the registry: spec.md §3's Subscriber/PeerProcess.
type Peer struct {
	ID         uuid.UUID
	Address    string
	Feedtype   uint32
	Class      *productclass.Class
	Role       Role
	Mode       Mode
	cancel     context.CancelFunc
	done       chan struct{}
}

// Manager is the process-wide registry, keyed by peer ID rather than OS
// pid (there is no pid in a goroutine-per-peer model, but the keying
// purpose — "find and terminate a specific peer's worker" — is identical).
type Manager struct {
	mu    sync.RWMutex
	peers map[uuid.UUID]*Peer
}

func NewManager() *Manager {
	return &Manager{peers: make(map[uuid.UUID]*Peer)}
}

// Register adds a new peer entry and returns it together with a context
// the caller's worker goroutine should select on for cancellation. work is
// run in its own goroutine; when it returns (for any reason) the entry is
// automatically reaped.
func (m *Manager) Register(ctx context.Context, address string, feedtype uint32, class *productclass.Class, role Role, mode Mode, work func(context.Context, *Peer)) *Peer {
	workerCtx, cancel := context.WithCancel(ctx)
	p := &Peer{
		ID:       uuid.New(),
		Address:  address,
		Feedtype: feedtype,
		Class:    class,
		Role:     role,
		Mode:     mode,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	m.peers[p.ID] = p
	m.mu.Unlock()

	go func() {
		defer close(p.done)
		defer m.reap(p.ID)
		work(workerCtx, p)
	}()

	return p
}

// Stop cancels a peer's worker context (the portable equivalent of SIGTERM
// to that peer's process) and waits for it to exit.
func (m *Manager) Stop(id uuid.UUID) {
	m.mu.RLock()
	p, ok := m.peers[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	p.cancel()
	<-p.done
}

// StopAll terminates every registered peer, used on process shutdown.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Stop(id)
	}
}

func (m *Manager) reap(id uuid.UUID) {
	m.mu.Lock()
	delete(m.peers, id)
	m.mu.Unlock()
}

// Lookup finds an existing peer by address and role, used by AccessControl's
// subscription-reduction step 3 ("any existing subscription by the same
// peer"). Returns nil if none is registered.
func (m *Manager) Lookup(address string, role Role) *Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.peers {
		if p.Address == address && p.Role == role {
			return p
		}
	}
	return nil
}

// Peers returns a snapshot of every currently registered peer.
func (m *Manager) Peers() []*Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// Count returns the number of active peers, split by role — used by the
// admin HTTP surface and metrics.
func (m *Manager) Count() (upstream, downstream int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.peers {
		if p.Role == RoleUpstream {
			upstream++
		} else {
			downstream++
		}
	}
	return
}

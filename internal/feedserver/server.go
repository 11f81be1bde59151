// Package feedserver is the server side of spec.md §4.4: it accepts an
// incoming connection from a downstream peer, performs the FEEDME/NOTIFYME
// handshake, runs subscription reduction through the current AccessControl
// table, and — if anything survives the reduction — forks an
// UpstreamWorker through the SubscriptionManager. Grounded on the
// teacher's interfaces/http server construction for the listener shape and
// on internal/wire's own conn_test.go for the upgrade-and-serve pattern,
// since no pack repo implements this exact accept-a-typed-RPC-connection
// loop.
package feedserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Unidata/LDM-sub012/internal/accesscontrol"
	"github.com/Unidata/LDM-sub012/internal/breakers"
	"github.com/Unidata/LDM-sub012/internal/metrics"
	"github.com/Unidata/LDM-sub012/internal/pq"
	"github.com/Unidata/LDM-sub012/internal/productclass"
	"github.com/Unidata/LDM-sub012/internal/subscription"
	"github.com/Unidata/LDM-sub012/internal/upstream"
	"github.com/Unidata/LDM-sub012/internal/wire"
)

// TableSource returns the currently active AccessControl rule table,
// hot-swapped wholesale by the daemon's SIGHUP handler (spec.md §5); the
// server always reads through it rather than caching a snapshot so a
// reload takes effect on the next handshake without restarting listeners.
type TableSource func() *accesscontrol.Table

// Server accepts downstream connections on a plain HTTP listener upgraded
// to a websocket per spec.md §9's "replace XDR framing with any binary
// framing library" note. It holds no per-connection state itself — every
// accepted connection is handled by its own goroutine closure — so one
// Server safely serves many concurrent peers.
type Server struct {
	Queue    *pq.ProductQueue
	Table    TableSource
	Peers    *subscription.Manager
	Log      *zerolog.Logger
	// Metrics, if set after construction, records sent products and
	// overruns against the daemon's Prometheus registry. Nil disables
	// metrics recording without changing behavior.
	Metrics  *metrics.Registry
	upgrader websocket.Upgrader
}

// New builds a Server over queue, consulting table() for every handshake
// and registering accepted peers in peers.
func New(queue *pq.ProductQueue, table TableSource, peers *subscription.Manager, log *zerolog.Logger) *Server {
	return &Server{
		Queue: queue,
		Table: table,
		Peers: peers,
		Log:   log,
		upgrader: websocket.Upgrader{
			// Downstream peers dial from other hosts entirely; origin
			// checking is a browser-CORS concept that doesn't apply to a
			// host-to-host data feed.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler upgrades and serves one connection per request; mount it at the
// daemon's feed endpoint (conventionally distinct from the admin HTTP
// surface in internal/adminapi).
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			if s.Log != nil {
				s.Log.Warn().Err(err).Msg("feedserver: upgrade failed")
			}
			return
		}
		conn := wire.NewConn(ws)
		peerHost := hostOf(r.RemoteAddr)
		go s.serve(r.Context(), conn, peerHost)
	})
}

func hostOf(remoteAddr string) string {
	if i := strings.LastIndex(remoteAddr, ":"); i >= 0 {
		return remoteAddr[:i]
	}
	return remoteAddr
}

// serve reads the connection's single opening request (FEEDME or
// NOTIFYME), runs the handshake, and — if subscribed — blocks for the
// lifetime of the resulting UpstreamWorker.
func (s *Server) serve(parent context.Context, conn *wire.Conn, peerHost string) {
	defer conn.Close()

	_ = conn.SetDeadline(30 * time.Second)
	var feedme wire.Feedme
	kind, err := conn.Receive(&feedme)
	if err != nil {
		if s.Log != nil {
			s.Log.Warn().Err(err).Str("peer", peerHost).Msg("feedserver: handshake read failed")
		}
		return
	}

	switch kind {
	case wire.KindFeedme:
		s.handleFeedme(parent, conn, peerHost, feedme)
	case wire.KindNotifyme:
		// A NOTIFYME subscriber wants notification-only delivery (info,
		// no payload). This port reuses the same scan/send worker as
		// FEEDME and relies on the caller's subscription class to
		// request small/no-payload products; a dedicated
		// notification-only frame kind is not worth a second worker
		// implementation over the identical queue-scan contract.
		s.handleFeedme(parent, conn, peerHost, wire.Feedme{Class: feedme.Class, MaxHereis: feedme.MaxHereis})
	default:
		if s.Log != nil {
			s.Log.Warn().Str("peer", peerHost).Str("kind", kind.String()).Msg("feedserver: unexpected first frame")
		}
	}
}

// handleFeedme implements spec.md §4.4 steps 1-5 for one FEEDME (or
// FEEDME-shaped NOTIFYME) request.
func (s *Server) handleFeedme(parent context.Context, conn *wire.Conn, peerHost string, req wire.Feedme) {
	requested, err := req.Class.ToClass()
	if err != nil {
		_ = conn.Send(wire.KindFeedmeReply, wire.FeedmeReply{BadPattern: true})
		return
	}

	table := s.Table()
	var existing *productclass.Class
	if p := s.Peers.Lookup(peerHost, subscription.RoleUpstream); p != nil {
		existing = p.Class
	}
	reduced, excludes, changed := table.Reduce(peerHost, requested, existing)

	if len(reduced.Conjuncts) == 0 || changed {
		_ = conn.Send(wire.KindFeedmeReply, wire.FeedmeReply{Reclass: rawPtr(reduced)})
		return
	}

	mode := upstream.ModePrimary
	start := pq.ZeroCursor
	if requested.SigHint != nil {
		mode = upstream.ModeAlternate
	}

	done := make(chan struct{})
	peer := s.Peers.Register(parent, peerHost, feedtypeUnion(reduced), reduced,
		subscription.RoleUpstream, subscription.Mode(mode),
		func(ctx context.Context, _ *subscription.Peer) {
			defer close(done)
			filter := accesscontrol.FilteredClass{Class: reduced, Excludes: excludes}
			w := upstream.New(peerHost, conn, filter, s.Queue, mode, start,
				rate.NewLimiter(rate.Limit(1<<20), 1<<16), breakers.New("upstream:"+peerHost))
			if s.Metrics != nil {
				w.OnOverrun = func(peer string) {
					s.Metrics.QueueOverruns.WithLabelValues(peer).Inc()
				}
				w.OnSent = func(peer string, m upstream.Mode) {
					s.Metrics.UpstreamSent.WithLabelValues(peer, modeLabel(m)).Inc()
				}
			}
			if err := w.Run(ctx); err != nil && s.Log != nil {
				s.Log.Warn().Err(err).Str("peer", peerHost).Msg("feedserver: upstream worker exited")
			}
		})

	_ = conn.Send(wire.KindFeedmeReply, wire.FeedmeReply{OK: true, Pid: peer.ID.String()})

	// Block this connection's goroutine until the worker (which owns conn
	// via the closure above) finishes, so the deferred conn.Close in serve
	// doesn't race the worker's use of it.
	<-done
}

func rawPtr(c *productclass.Class) *wire.RawClass {
	rc := wire.ToRawClass(c)
	return &rc
}

func modeLabel(m upstream.Mode) string {
	if m == upstream.ModeAlternate {
		return "alternate"
	}
	return "primary"
}

func feedtypeUnion(c *productclass.Class) uint32 {
	var bits uint32
	for _, conj := range c.Conjuncts {
		bits |= conj.Mask
	}
	return bits
}

// Command ldmd is the dissemination daemon (spec.md §3-§5): it holds the
// local product queue, serves incoming FEEDME/NOTIFYME requests under an
// access-control table, maintains outgoing REQUEST subscriptions to
// upstream peers, spawns EXEC rules' auxiliary processes at startup, and
// exposes an admin HTTP surface for health/metrics/peer introspection.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Unidata/LDM-sub012/internal/accesscontrol"
	"github.com/Unidata/LDM-sub012/internal/adminapi"
	"github.com/Unidata/LDM-sub012/internal/breakers"
	"github.com/Unidata/LDM-sub012/internal/config"
	"github.com/Unidata/LDM-sub012/internal/cursor"
	"github.com/Unidata/LDM-sub012/internal/downstream"
	"github.com/Unidata/LDM-sub012/internal/feedserver"
	"github.com/Unidata/LDM-sub012/internal/feedtype"
	"github.com/Unidata/LDM-sub012/internal/logging"
	"github.com/Unidata/LDM-sub012/internal/metrics"
	"github.com/Unidata/LDM-sub012/internal/pq"
	"github.com/Unidata/LDM-sub012/internal/pq/sigcache"
	"github.com/Unidata/LDM-sub012/internal/productclass"
	"github.com/Unidata/LDM-sub012/internal/signalctl"
	"github.com/Unidata/LDM-sub012/internal/subscription"
	"github.com/Unidata/LDM-sub012/internal/wire"
)

const (
	exitClean     = 0
	exitFatal     = 1
	exitCantChdir = 4
)

var (
	flagVerbose bool
	flagDebug   bool
	flagLogDest string
	flagDataDir string
	flagConfDir string
)

func main() {
	root := &cobra.Command{
		Use:           "ldmd",
		Short:         "Dissemination daemon: access control, subscriptions, and product forwarding",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "log at info level")
	root.Flags().BoolVarP(&flagDebug, "debug", "x", false, "log at debug level")
	root.Flags().StringVarP(&flagLogDest, "log", "l", "-", "log destination (\"-\" for stderr)")
	root.Flags().StringVarP(&flagDataDir, "datadir", "d", "", "working directory to chdir into before opening the queue/state files")
	root.Flags().StringVarP(&flagConfDir, "confdir", "c", "/etc/ldm", "directory holding the daemon's YAML config and its access-control file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ldmd:", err)
		os.Exit(exitFatal)
	}
}

// tableHolder lets the feed server and REQUEST-worker startup path read the
// access-control table through one atomically swappable pointer, hot-
// reloaded wholesale on SIGHUP (spec.md §5) without a lock on the read path.
type tableHolder struct {
	p atomic.Pointer[accesscontrol.Table]
}

func (h *tableHolder) get() *accesscontrol.Table { return h.p.Load() }
func (h *tableHolder) set(t *accesscontrol.Table) { h.p.Store(t) }

func run(cmd *cobra.Command, args []string) error {
	if flagDataDir != "" {
		if err := os.Chdir(flagDataDir); err != nil {
			fmt.Fprintf(os.Stderr, "ldmd: cannot change datadir to %q: %v\n", flagDataDir, err)
			os.Exit(exitCantChdir)
		}
	}

	level := logging.LevelWarn
	if flagVerbose {
		level = logging.LevelInfo
	}
	if flagDebug {
		level = logging.LevelDebug
	}
	logger, err := logging.New(flagLogDest, level)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logger.Close()
	log := logger.Zerolog()

	cfg, err := config.Load(flagConfDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := feedtype.Standard()

	queue, err := openOrCreateQueue(cfg)
	if err != nil {
		return fmt.Errorf("open queue %q: %w", cfg.Queue.Path, err)
	}
	defer queue.Close()

	holder := &tableHolder{}
	if err := reloadTable(holder, cfg.ACLFile, reg); err != nil {
		return fmt.Errorf("load access-control file %q: %w", cfg.ACLFile, err)
	}

	var sigCache *sigcache.Cache
	if cfg.SigCache.Enabled {
		sigCache, err = sigcache.New(cfg.SigCache.Addr, cfg.SigCache.Password, cfg.SigCache.DB, cfg.SigCache.TTL)
		if err != nil {
			return fmt.Errorf("open signature cache: %w", err)
		}
		defer sigCache.Close()
	}

	store, err := openCursorStore(cfg)
	if err != nil {
		return fmt.Errorf("open cursor store: %w", err)
	}
	defer store.Close()

	promReg := prometheus.NewRegistry()
	metricsReg := metrics.New(promReg)

	peers := subscription.NewManager()

	feedSrv := feedserver.New(queue, holder.get, peers, log)
	feedSrv.Metrics = metricsReg
	feedListener := &http.Server{
		Addr:         cfg.Feed.ListenAddr,
		Handler:      feedSrv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	admin := adminapi.New(cfg.Server.ListenAddr, promReg, peers, log)

	ctl := signalctl.New(context.Background(), signalctl.Handlers{
		OnReopenLog: func() {
			if err := logger.Reopen(); err != nil {
				log.Error().Err(err).Msg("ldmd: reopen log failed")
			}
		},
		OnCycleVerbosity: func() {
			lvl := logger.CycleVerbosity()
			log.Info().Int("level", int(lvl)).Msg("ldmd: verbosity cycled")
		},
		OnReload: func() {
			if err := reloadTable(holder, cfg.ACLFile, reg); err != nil {
				log.Error().Err(err).Msg("ldmd: access-control reload failed, keeping existing table")
				return
			}
			log.Info().Msg("ldmd: access-control table reloaded")
		},
	})
	defer ctl.Stop()

	startRequestWorkers(ctl.Context(), holder.get(), queue, sigCache, peers, metricsReg, log)
	execPIDs := startExecRules(ctl.Context(), holder.get(), log)

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.Feed.ListenAddr).Msg("ldmd: feed listener starting")
		if err := feedListener.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("feed listener: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("ldmd: admin listener starting")
		if err := admin.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin listener: %w", err)
		}
	}()

	select {
	case <-ctl.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("ldmd: listener failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = feedListener.Shutdown(shutdownCtx)
	_ = admin.Shutdown(shutdownCtx)
	peers.StopAll()
	reapExecRules(execPIDs, log)

	log.Info().Msg("ldmd: clean shutdown")
	os.Exit(exitClean)
	return nil
}

func openOrCreateQueue(cfg *config.Config) (*pq.ProductQueue, error) {
	q, err := pq.Open(cfg.Queue.Path)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return pq.Create(cfg.Queue.Path, cfg.Queue.SlotCount, cfg.Queue.DataCapacity)
}

func reloadTable(holder *tableHolder, aclPath string, reg *feedtype.Registry) error {
	f, err := os.Open(aclPath)
	if err != nil {
		return err
	}
	defer f.Close()
	table, err := accesscontrol.Load(f, reg)
	if err != nil {
		return err
	}
	holder.set(table)
	return nil
}

func openCursorStore(cfg *config.Config) (cursor.Store, error) {
	switch cfg.Cursor.Backend {
	case "postgres":
		return cursor.NewPostgresStore(cfg.Cursor.PostgresDSN, cfg.Cursor.QueryTimeout)
	default:
		return cursor.NewFileStore(cfg.Cursor.Dir)
	}
}

// startRequestWorkers launches one DownstreamWorker per REQUEST rule in
// table, registered with the SubscriptionManager under RoleDownstream, each
// reconnecting independently with its own circuit breaker (spec.md §4.6).
// REQUEST rules are read once at startup; a SIGHUP-driven ACL reload swaps
// the table future handshakes read through, but does not tear down or
// reshape already-running outbound connections.
func startRequestWorkers(ctx context.Context, table *accesscontrol.Table, queue *pq.ProductQueue, sigCache *sigcache.Cache, peers *subscription.Manager, metricsReg *metrics.Registry, log *zerolog.Logger) {
	for _, rule := range table.Request {
		rule := rule
		class, err := productclass.New(productclass.Zero, productclass.End, []productclass.RawSpec{
			{Mask: rule.Feedtype, Pattern: rule.Identifier.String()},
		})
		if err != nil {
			log.Error().Err(err).Str("upstream", rule.Upstream).Msg("ldmd: bad REQUEST rule, skipping")
			continue
		}

		upstream := rule.Upstream
		dial := func(dialCtx context.Context) (downstream.Conn, error) {
			return wire.Dial(dialCtx, "ws://"+upstream+"/")
		}

		peers.Register(ctx, upstream, rule.Feedtype, class, subscription.RoleDownstream, subscription.ModePrimary,
			func(workerCtx context.Context, _ *subscription.Peer) {
				w := downstream.New(upstream, dial, queue, class, breakers.New("downstream:"+upstream))
				w.SigCache = sigCache
				w.OnReceived = func(peer string) {
					metricsReg.DownstreamReceived.WithLabelValues(peer).Inc()
				}
				w.OnReconnect = func(peer string) {
					metricsReg.PeerReconnects.WithLabelValues(peer).Inc()
				}
				if err := w.Run(workerCtx); err != nil && log != nil {
					log.Warn().Err(err).Str("upstream", upstream).Msg("ldmd: downstream worker exited")
				}
			})
	}
}

// startExecRules spawns every EXEC rule's child process at startup and
// returns their PIDs for end-of-run reaping. Restart-on-exit ("keep_running")
// is explicitly out of scope (spec.md §5): a child that dies simply stays
// dead until the next ldmd restart.
func startExecRules(ctx context.Context, table *accesscontrol.Table, log *zerolog.Logger) []*exec.Cmd {
	var cmds []*exec.Cmd
	for _, rule := range table.Exec {
		if len(rule.Argv) == 0 {
			continue
		}
		c := exec.CommandContext(ctx, rule.Argv[0], rule.Argv[1:]...)
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Start(); err != nil {
			log.Error().Err(err).Str("argv", strings.Join(rule.Argv, " ")).Msg("ldmd: EXEC rule failed to start")
			continue
		}
		log.Info().Int("pid", c.Process.Pid).Str("argv", strings.Join(rule.Argv, " ")).Msg("ldmd: EXEC rule started")
		cmds = append(cmds, c)
		go func(cmd *exec.Cmd) {
			if err := cmd.Wait(); err != nil {
				log.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("ldmd: EXEC child exited")
			}
		}(c)
	}
	return cmds
}

func reapExecRules(cmds []*exec.Cmd, log *zerolog.Logger) {
	for _, c := range cmds {
		if c.Process == nil {
			continue
		}
		_ = c.Process.Signal(os.Interrupt)
	}
}

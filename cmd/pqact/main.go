// Command pqact runs the PatternActionEngine (spec.md §4.7) standalone: it
// scans a product queue from a durably persisted cursor, matches each
// product against a pattern-action configuration, and dispatches the
// file/pipe/exec/dbfile action of every matching rule. Flags follow
// spec.md §6 verbatim.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/Unidata/LDM-sub012/internal/cursor"
	"github.com/Unidata/LDM-sub012/internal/feedtype"
	"github.com/Unidata/LDM-sub012/internal/logging"
	"github.com/Unidata/LDM-sub012/internal/pq"
	"github.com/Unidata/LDM-sub012/internal/pqact"
	"github.com/Unidata/LDM-sub012/internal/signalctl"
)

// Exit codes per spec.md §6.
const (
	exitClean     = 0
	exitFatal     = 1
	exitCantChdir = 4
)

var (
	flagVerbose  bool
	flagDebug    bool
	flagLogDest  string
	flagDataDir  string
	flagQueue    string
	flagPattern  string
	flagFeedtype string
	flagInterval int
	flagPipeTmeo int
	flagOffset   int
)

func main() {
	root := &cobra.Command{
		Use:           "pqact",
		Short:         "Pattern-action engine: dispatch queued products by rule table",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "log at info level")
	root.Flags().BoolVarP(&flagDebug, "debug", "x", false, "log at debug level")
	root.Flags().StringVarP(&flagLogDest, "log", "l", "-", "log destination (\"-\" for stderr)")
	root.Flags().StringVarP(&flagDataDir, "datadir", "d", "", "working directory to chdir into before opening the queue/state files")
	root.Flags().StringVarP(&flagQueue, "queue", "q", "/var/ldm/queue.pq", "product queue path")
	root.Flags().StringVarP(&flagPattern, "pattern", "p", "pqact.conf", "pattern-action configuration file")
	root.Flags().StringVarP(&flagFeedtype, "feedtype", "f", "", "restrict processing to this feedtype expression")
	root.Flags().IntVarP(&flagInterval, "interval", "i", 5, "suspend interval in seconds when the queue is caught up")
	root.Flags().IntVarP(&flagPipeTmeo, "pipe-timeout", "t", 10, "pipe-action timeout in seconds")
	root.Flags().IntVarP(&flagOffset, "offset", "o", 0, "on first run with no saved cursor, start this many seconds before now instead of at the tail")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pqact:", err)
		os.Exit(exitFatal)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagDataDir != "" {
		if err := os.Chdir(flagDataDir); err != nil {
			fmt.Fprintf(os.Stderr, "pqact: cannot change datadir to %q: %v\n", flagDataDir, err)
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

	reg := feedtype.Standard()

	queue, err := pq.Open(flagQueue)
	if err != nil {
		return fmt.Errorf("open queue %q: %w", flagQueue, err)
	}
	defer queue.Close()

	table, err := loadRestrictedTable(flagPattern, flagFeedtype, reg)
	if err != nil {
		return fmt.Errorf("load pattern-action file %q: %w", flagPattern, err)
	}

	stateDir := filepath.Dir(flagPattern)
	if stateDir == "" {
		stateDir = "."
	}
	store, err := cursor.NewFileStore(stateDir)
	if err != nil {
		return fmt.Errorf("open cursor state dir: %w", err)
	}
	defer store.Close()

	limiter := rate.NewLimiter(rate.Every(time.Duration(flagPipeTmeo)*time.Second/10), 4)
	dispatcher := pqact.NewDispatcher(64, time.Duration(flagPipeTmeo)*time.Second, limiter)
	defer dispatcher.Close()

	engine := pqact.New(queue, dispatcher, store, filepath.Base(flagPattern), table)
	engine.SuspendFor = time.Duration(flagInterval) * time.Second
	engine.StartOffset = time.Duration(flagOffset) * time.Second

	ctl := signalctl.New(context.Background(), signalctl.Handlers{
		OnReopenLog: func() {
			if err := logger.Reopen(); err != nil {
				log.Error().Err(err).Msg("pqact: reopen log failed")
			}
		},
		OnCycleVerbosity: func() {
			lvl := logger.CycleVerbosity()
			log.Info().Int("level", int(lvl)).Msg("pqact: verbosity cycled")
		},
		OnReload: func() {
			fresh, err := loadRestrictedTable(flagPattern, flagFeedtype, reg)
			if err != nil {
				log.Error().Err(err).Msg("pqact: reload failed, keeping existing table")
				return
			}
			engine.ReplaceTable(fresh)
			log.Info().Int("rules", len(fresh)).Msg("pqact: rule table reloaded")
		},
	})
	defer ctl.Stop()

	log.Info().Str("queue", flagQueue).Str("pattern", flagPattern).Msg("pqact: starting")

	if err := engine.Run(ctl.Context()); err != nil {
		log.Error().Err(err).Msg("pqact: engine exited")
		return err
	}

	log.Info().Msg("pqact: clean shutdown")
	os.Exit(exitClean)
	return nil
}

func loadRestrictedTable(path, feedtypeExpr string, reg *feedtype.Registry) ([]*pqact.Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	table, err := pqact.Load(f, reg)
	if err != nil {
		return nil, err
	}
	if feedtypeExpr == "" {
		return table, nil
	}
	restrict, err := reg.ParseExpr(feedtypeExpr)
	if err != nil {
		return nil, fmt.Errorf("feedtype expr %q: %w", feedtypeExpr, err)
	}
	for _, rule := range table {
		rule.FeedtypeMask &= restrict
	}
	return table, nil
}

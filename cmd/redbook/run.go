package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/baohengtao/redbook/internal/downloader"
	"github.com/baohengtao/redbook/pkg/config"
	"github.com/baohengtao/redbook/pkg/logger"
	"github.com/baohengtao/redbook/pkg/metrics"
	"github.com/baohengtao/redbook/pkg/pacer"
	"github.com/baohengtao/redbook/pkg/rednote"
	"github.com/baohengtao/redbook/pkg/scheduler"
	"github.com/baohengtao/redbook/pkg/signer"
	"github.com/baohengtao/redbook/pkg/store"
)

var (
	runOnce     bool
	workBudget  time.Duration
	workers     int
	metricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll opted-in users and download their new notes",
	Long: `Run the poll loop: pick users whose fetch cycle has arrived, sync their
profile and notes, and download new media.

While running, the console accepts single-letter commands:
  f  start a cycle now
  s  save the captured log to the media directory
  q  quit`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single cycle and exit")
	runCmd.Flags().DurationVar(&workBudget, "work-budget", 0, "wall-clock budget per cycle")
	runCmd.Flags().IntVar(&workers, "workers", 0, "download worker count")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	flags := map[string]interface{}{}
	if workBudget > 0 {
		flags["work-budget"] = workBudget
	}
	if workers > 0 {
		flags["workers"] = workers
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.MergeCommandLineFlags(flags)
	log := logger.GetLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := buildClient(cfg)
	if err != nil {
		return err
	}

	me, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("session check failed: %w", err)
	}
	log.InfoWithFields("logged in", map[string]interface{}{
		"nickname": me.Nickname,
	})

	st, err := store.Open(cfg.Storage.DatabasePath, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	fetcher := downloader.NewFetcher(cfg.Download, nil, log)
	pool := downloader.NewWorkerPool(ctx, cfg.Download.Workers, fetcher, log)
	pool.Start()
	go drainResults(pool, log)

	sched := scheduler.New(client, st, pool, cfg.Scheduler, cfg.Download.MediaDir, log)

	go operatorConsole(cancel, sched, cfg, log)

	if runOnce {
		err = sched.RunCycle(ctx)
	} else {
		err = sched.Run(ctx)
	}
	pool.Stop()

	if err != nil && ctx.Err() == nil {
		// Keep a diagnostic log next to the downloads on abnormal exit
		if path, saveErr := logger.SaveCapture(cfg.Logging.CaptureDir, "redbook"); saveErr == nil {
			log.InfoWithFields("log saved", map[string]interface{}{"path": path})
		}
		return err
	}
	return nil
}

// buildClient assembles the session, signer, pacer and gateway stack
func buildClient(cfg *config.Config) (*rednote.Client, error) {
	log := logger.GetLogger()

	manager, err := signer.NewManager()
	if err != nil {
		return nil, err
	}

	var session *signer.Session
	if cfg.Session.Account != "" {
		session, err = manager.Retrieve(cfg.Session.Account)
	} else {
		session, err = manager.RetrieveDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("no usable session, run 'redbook auth login' first: %w", err)
	}
	if cfg.Session.UserAgent != "" && session.UserAgent == "" {
		session.UserAgent = cfg.Session.UserAgent
	}

	var sign signer.SignFunc
	if cfg.Session.SignerURL != "" {
		sign = signer.NewRemoteSignFunc(cfg.Session.SignerURL, nil)
	}

	sg := signer.New(session, sign)
	pc := pacer.New(cfg.Pacing, log)
	gw := rednote.NewGateway(sg, pc, cfg.Retry, log)
	return rednote.NewClient(gw, log), nil
}

// drainResults consumes pool results so workers never block on a full
// result queue.
func drainResults(pool *downloader.WorkerPool, log logger.Logger) {
	for result := range pool.Results() {
		if !result.Success() {
			log.WarnWithFields("media download gave up", map[string]interface{}{
				"note":  result.Job.Assets[0].NoteID,
				"error": result.Err.Error(),
			})
		}
	}
}

// operatorConsole reads single-letter commands from an interactive stdin
func operatorConsole(cancel context.CancelFunc, sched *scheduler.Scheduler, cfg *config.Config, log logger.Logger) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "f", "fetch":
			log.Info("cycle requested from console")
			sched.Wake()
		case "s", "save":
			path, err := logger.SaveCapture(cfg.Logging.CaptureDir, "redbook")
			if err != nil {
				log.WithError(err).Error("failed to save log")
				continue
			}
			log.InfoWithFields("log saved", map[string]interface{}{"path": path})
		case "q", "quit":
			log.Info("quit requested from console")
			cancel()
			return
		case "":
		default:
			fmt.Println("commands: f=fetch now, s=save log, q=quit")
		}
	}
}

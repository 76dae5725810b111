package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/sw965/omw/mathx/randx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sw965/banditformula/bandit"
	"github.com/sw965/banditformula/cache"
	"github.com/sw965/banditformula/config"
	"github.com/sw965/banditformula/expr"
	"github.com/sw965/banditformula/fingerprint"
	"github.com/sw965/banditformula/logging"
	"github.com/sw965/banditformula/report"
	"github.com/sw965/banditformula/search"
)

// app holds the flags and the per-run resources shared by all commands.
type app struct {
	configPath string
	seed       uint64
	logLevel   string
	jsonLogs   bool

	cfg      config.Config
	runID    string
	logger   *slog.Logger
	reporter report.Reporter
	metrics  *report.Metrics
	cache    *cache.Cache
	rng      *rand.Rand
	out      io.Writer
	closers  []func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "banditformula",
		Short:        "Discover index formulas for multi-armed bandit policies",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "YAML or JSON configuration file")
	pf.Uint64Var(&a.seed, "seed", 0, "random seed (0 draws a fresh seed)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.jsonLogs, "json", false, "log as JSON on stderr")

	root.AddCommand(
		a.enumerateCmd(),
		a.evaluateCmd(),
		a.poolCmd(),
		a.searchCmd(),
		a.tuneCmd(),
		a.compareCmd(),
	)
	return root
}

// runE wraps a command body with setup and teardown of the run resources.
func (a *app) runE(run func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := a.setup(cmd); err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, a.teardown())
		}()

		ctx := cmd.Context()
		start := time.Now()
		a.logger.Info("実行開始", "command", cmd.Name(), "seed", a.cfg.Seed)
		if err := run(ctx, args); err != nil {
			a.logger.Error("実行失敗", "command", cmd.Name(), "error", err)
			return err
		}
		a.logger.Info("実行終了", "command", cmd.Name(), "elapsed", time.Since(start))
		return nil
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = a.seed
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if flags.Changed("json") {
		cfg.Logging.JSON = a.jsonLogs
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.out = cmd.OutOrStdout()
	a.closers = nil

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return closer.Close() })
	a.runID = uuid.NewString()
	a.logger = logger.With("run_id", a.runID)

	reporters := report.Multi{report.NewSlogReporter(a.logger)}

	if cfg.Cache.Enabled {
		var store cache.Store
		if cfg.Cache.Dir != "" || cfg.Cache.InMemory {
			bs, err := cache.OpenBadger(cache.BadgerConfig{Dir: cfg.Cache.Dir, InMemory: cfg.Cache.InMemory, Logger: a.logger})
			if err != nil {
				return errors.Join(err, a.teardown())
			}
			a.closers = append(a.closers, func(context.Context) error { return bs.Close() })
			store = bs
		}
		a.cache = cache.New(store)
	} else {
		a.cache = nil
	}

	a.metrics = nil
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		var hits func() int64
		if a.cache != nil {
			hits = a.cache.Hits
		}
		a.metrics = report.NewMetrics(reg, hits)
		reporters = append(reporters, a.metrics)
		if cfg.Metrics.Addr != "" {
			a.serveMetrics(reg, cfg.Metrics.Addr)
		}
	}

	if cfg.Tracing.Enabled {
		tp, err := newTracerProvider(cfg, os.Stderr)
		if err != nil {
			return errors.Join(err, a.teardown())
		}
		a.closers = append(a.closers, tp.Shutdown)
		reporters = append(reporters, report.NewTracingReporter(tp))
	}
	a.reporter = reporters

	if cfg.Seed == 0 {
		a.rng = randx.NewPCGFromGlobalSeed()
	} else {
		a.rng = rand.New(rand.NewPCG(cfg.Seed, 0))
	}
	return nil
}

// teardown releases the run resources in reverse order.
func (a *app) teardown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) serveMetrics(reg *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("metrics server started", "addr", addr)
	a.closers = append(a.closers, srv.Shutdown)
}

func newTracerProvider(cfg config.Config, w io.Writer) (*sdktrace.TracerProvider, error) {
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.Tracing.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.Logging.Service),
	)
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// objective builds the rollout objective wired to the cache and metrics.
func (a *app) objective() (*bandit.Objective, error) {
	o, err := a.cfg.Problem.Objective(a.cache)
	if err != nil {
		return nil, err
	}
	if a.metrics != nil {
		o.OnEpisode = func(out bandit.Outcome) { a.metrics.ObserveRegret(out.Regret) }
	}
	return o, nil
}

func (a *app) scoreFunc(o *bandit.Objective) search.ScoreFunc {
	if a.metrics != nil {
		return a.metrics.CountScores(o.Score)
	}
	return o.Score
}

func (a *app) battery() fingerprint.Battery {
	rng := rand.New(rand.NewPCG(a.cfg.Fingerprint.Seed, 0))
	return bandit.NewBattery(a.cfg.Fingerprint.Samples, a.cfg.Fingerprint.Arms, rng)
}

// loadFormulas reads a formula file, or stdin for "-". Malformed lines are
// logged and skipped.
func (a *app) loadFormulas(path string) ([]expr.Labeled, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	res, err := expr.ReadFormulas(r, &bandit.Domain)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	for _, pe := range res.Errors {
		a.logger.Warn("数式を読み飛ばしました", "file", path, "line", pe.Line, "error", pe)
	}
	a.logger.Info("数式を読み込みました", "file", path, "accepted", res.Accepted, "rejected", res.Rejected)
	if len(res.Formulas) == 0 {
		return nil, fmt.Errorf("%s: 有効な数式がありません", path)
	}
	return res.Formulas, nil
}

func formulasOf(ls []expr.Labeled) []*expr.Node {
	fs := make([]*expr.Node, len(ls))
	for i, l := range ls {
		fs[i] = l.Formula
	}
	return fs
}

// labelsOf returns the labels when every formula carries one.
func labelsOf(ls []expr.Labeled) ([]float64, bool) {
	vs := make([]float64, len(ls))
	for i, l := range ls {
		if !l.HasLabel {
			return nil, false
		}
		vs[i] = l.Label
	}
	return vs, true
}

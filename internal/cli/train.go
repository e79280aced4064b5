package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/phasetrain/internal/checkpoint"
	"github.com/roach88/phasetrain/internal/collective"
	"github.com/roach88/phasetrain/internal/config"
	"github.com/roach88/phasetrain/internal/metrics"
	"github.com/roach88/phasetrain/internal/model"
	"github.com/roach88/phasetrain/internal/optim"
	"github.com/roach88/phasetrain/internal/perturb"
	"github.com/roach88/phasetrain/internal/schedule"
	"github.com/roach88/phasetrain/internal/store"
	"github.com/roach88/phasetrain/internal/synthetic"
	"github.com/roach88/phasetrain/internal/trainer"
)

// TrainOptions holds flags for the train command.
type TrainOptions struct {
	*RootOptions
	ConfigPath string

	// Flag values. Applied over the config file only when set explicitly.
	Phases          string
	ModelDir        string
	Model           string
	Resume          bool
	ResumeName      string
	SaveName        string
	Workers         int
	Seed            uint64
	CheckpointEvery int
	StepAccounting  string
	Perturb         string
	Sigma           float64
	Ledger          string
	MetricsAddr     string

	// Models overrides the model registry (for testing).
	// If nil, defaults to model.Default().
	Models *model.Registry

	// RunIDs overrides the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs trainer.RunIDGenerator
}

// TrainResult is the outcome of a training run.
type TrainResult struct {
	RunID      string  `json:"run_id"`
	Epochs     []int   `json:"epochs"`
	BestScore  float64 `json:"best_score"`
	Stopped    bool    `json:"stopped"`
	ResultPath string  `json:"result_path"`
	Checkpoint string  `json:"checkpoint"`
}

func (r TrainResult) String() string {
	status := "completed"
	if r.Stopped {
		status = "stopped"
	}
	if r.ResultPath == "" {
		return fmt.Sprintf("✓ Run %s had no epochs left to run\n  best score: %.4f", r.RunID, r.BestScore)
	}
	return fmt.Sprintf("✓ Run %s %s after %d epoch(s)\n  best score: %.4f\n  results:    %s\n  checkpoint: %s",
		r.RunID, status, len(r.Epochs), r.BestScore, r.ResultPath, r.Checkpoint)
}

// NewTrainCommand creates the train command.
func NewTrainCommand(rootOpts *RootOptions) *cobra.Command {
	return newTrainCommand(&TrainOptions{RootOptions: rootOpts})
}

func newTrainCommand(opts *TrainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run phase-scheduled training on local workers",
		Long: `Train the configured model following a phase schedule.

Workers run in-process and keep their metrics, stability decisions and stop
requests in agreement. The first SIGINT or SIGTERM stops the run after the
current epoch and writes a final checkpoint; a second one aborts.

Exit codes:
  0 - Run completed or stopped on request
  1 - Training failed
  2 - Command error (bad config, schedule or flags)

Examples:
  phasetrain train --phases phases.yaml --model-dir ./runs/a
  phasetrain train --config run.yaml --workers 4 --ledger ./runs/ledger.db
  phasetrain train --config run.yaml --resume --resume-name epoch_018`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "path to run config (YAML)")
	f.StringVar(&opts.Phases, "phases", "", "path to phase schedule (YAML or CUE)")
	f.StringVar(&opts.ModelDir, "model-dir", "", "directory for checkpoints and results")
	f.StringVar(&opts.Model, "model", "", "model name")
	f.BoolVar(&opts.Resume, "resume", false, "resume from a checkpoint slot")
	f.StringVar(&opts.ResumeName, "resume-name", "", "checkpoint slot to resume from")
	f.StringVar(&opts.SaveName, "save-name", "", "name of the final checkpoint and result file")
	f.IntVar(&opts.Workers, "workers", 0, "number of local workers")
	f.Uint64Var(&opts.Seed, "seed", 0, "data and model seed")
	f.IntVar(&opts.CheckpointEvery, "checkpoint-every", 0, "write the latest slot every N epochs")
	f.StringVar(&opts.StepAccounting, "step-accounting", "", "scheduler position on resume (all|applied)")
	f.StringVar(&opts.Perturb, "perturb", "", "input perturbation (none|gaussian)")
	f.Float64Var(&opts.Sigma, "sigma", 0, "gaussian perturbation scale")
	f.StringVar(&opts.Ledger, "ledger", "", "path to SQLite run ledger")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on host:port")

	return cmd
}

// resolveConfig loads the config file, if any, and applies explicit flags.
func resolveConfig(opts *TrainOptions, cmd *cobra.Command) (config.Run, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Read(opts.ConfigPath)
		if err != nil {
			return config.Run{}, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("phases", func() { cfg.PhasePath = opts.Phases })
	set("model-dir", func() { cfg.ModelDir = opts.ModelDir })
	set("model", func() { cfg.Model = opts.Model })
	set("resume", func() { cfg.Resume = opts.Resume })
	set("resume-name", func() { cfg.ResumeName = opts.ResumeName })
	set("save-name", func() { cfg.SaveName = opts.SaveName })
	set("workers", func() { cfg.Workers = opts.Workers })
	set("seed", func() { cfg.Seed = opts.Seed })
	set("checkpoint-every", func() { cfg.CheckpointEvery = opts.CheckpointEvery })
	set("step-accounting", func() { cfg.StepAccounting = opts.StepAccounting })
	set("perturb", func() { cfg.Perturb = opts.Perturb })
	set("sigma", func() { cfg.Sigma = opts.Sigma })
	set("ledger", func() { cfg.Ledger = opts.Ledger })
	set("metrics-addr", func() { cfg.MetricsAddr = opts.MetricsAddr })

	if err := cfg.Validate(); err != nil {
		return config.Run{}, err
	}
	return cfg, nil
}

func runTrain(opts *TrainOptions, cmd *cobra.Command) error {
	logger := configureLogging(opts.RootOptions, cmd)
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := resolveConfig(opts, cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	sched, err := schedule.Load(cfg.PhasePath)
	if err == nil {
		err = config.CheckSchedule(sched)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeSchedule, "invalid phase schedule", err)
	}
	logger.Info("phase schedule loaded", "path", cfg.PhasePath, "phases", sched.Len(),
		"epochs", sched.TotalEpochs(), "hash", sched.Hash())

	models := opts.Models
	if models == nil {
		models = model.Default()
	}
	if _, err := models.Lookup(cfg.Model); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid model", err)
	}
	if _, err := perturb.New(cfg.Perturb, perturb.Spec{Sigma: cfg.Sigma}); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid perturbation", err)
	}
	acct, err := cfg.Accounting()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid step accounting", err)
	}

	// Nil interface when no ledger is configured.
	var recorder trainer.Recorder
	if cfg.Ledger != "" {
		st, err := store.Open(cfg.Ledger)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to open ledger", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing ledger", "error", closeErr)
			}
		}()
		recorder = st
	}

	var exporter *metrics.Exporter
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		exporter, err = metrics.NewExporter(reg)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, "failed to register metrics", err)
		}
		_, shutdown, err := serveMetrics(cfg.MetricsAddr, reg, logger)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to serve metrics", err)
		}
		defer shutdown()
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	var (
		mu      sync.Mutex
		primary *trainer.Orchestrator
		result  *trainer.Results
		stops   stopFanout
	)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping after current epoch", "signal", sig)
			stops.Request()
		case <-ctx.Done():
			return
		}
		select {
		case sig := <-sigChan:
			logger.Info("received second signal, aborting", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = trainer.UUIDv7Generator{}
	}
	ckpts := checkpoint.NewFileStore(cfg.ModelDir)

	err = collective.Launch(ctx, cfg.Workers, func(ctx context.Context, comm collective.Collective) error {
		rank := comm.Rank()
		nw, err := models.Build(cfg.Model, model.Spec{NumClasses: cfg.NumClasses, Seed: cfg.Seed, Comm: comm})
		if err != nil {
			return err
		}
		pert, err := perturb.New(cfg.Perturb, perturb.Spec{Sigma: cfg.Sigma, Seed: cfg.Seed, Rank: rank})
		if err != nil {
			return err
		}
		datasets, err := synthetic.NewDatasetBuilder(synthetic.DatasetConfig{
			NumClasses: cfg.NumClasses,
			TrainSize:  cfg.TrainSize,
			ValSize:    cfg.ValSize,
			Seed:       cfg.Seed,
			Noise:      cfg.Noise,
		})
		if err != nil {
			return err
		}

		o, err := trainer.New(trainer.Config{
			Schedule:        sched,
			Model:           nw.Model,
			Stepper:         nw.Stepper,
			Perturber:       pert,
			Datasets:        datasets,
			Optimizers:      optim.Builder{Momentum: cfg.Momentum, WeightDecay: cfg.WeightDecay},
			Checkpoints:     ckpts,
			Comm:            comm,
			Recorder:        recorder,
			Exporter:        exporter,
			Logger:          logger,
			RunIDs:          runIDs,
			Accounting:      acct,
			PrintEvery:      cfg.PrintEvery,
			CheckpointEvery: cfg.CheckpointEvery,
			Resume:          cfg.Resume,
			ResumeSlot:      cfg.ResumeName,
			SaveName:        cfg.SaveName,
			ResultDir:       cfg.ModelDir,
			RunConfig:       cfg.Map(),
		})
		if err != nil {
			return err
		}
		if collective.IsPrimary(comm) {
			mu.Lock()
			primary = o
			mu.Unlock()
		}
		stops.Register(o)

		res, err := o.Run(ctx)
		if err != nil {
			return err
		}
		if collective.IsPrimary(comm) {
			mu.Lock()
			result = res
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		code := ErrCodeTraining
		if checkpoint.IsShapeMismatch(err) || errors.Is(err, checkpoint.ErrCorrupt) {
			code = ErrCodeCheckpoint
		}
		return formatter.Fail(ExitFailure, code, "training failed", err)
	}

	out := TrainResult{
		RunID:     primary.RunID(),
		Epochs:    sortedEpochs(result),
		BestScore: primary.BestScore(),
	}
	if slot := primary.SaveSlot(); slot != "" {
		out.ResultPath = filepath.Join(cfg.ModelDir, trainer.ResultFileName(slot))
		out.Checkpoint = ckpts.Path(slot)
	}
	out.Stopped = len(out.Epochs) > 0 && out.Epochs[len(out.Epochs)-1] < sched.TotalEpochs()-1
	return formatter.Success(out)
}

type stoppable interface {
	RequestStop()
}

// stopFanout forwards a stop request to every registered worker. Workers
// registered after the request receive it on registration.
type stopFanout struct {
	mu        sync.Mutex
	requested bool
	workers   []stoppable
}

func (f *stopFanout) Request() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = true
	for _, w := range f.workers {
		w.RequestStop()
	}
}

func (f *stopFanout) Register(w stoppable) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers = append(f.workers, w)
	if f.requested {
		w.RequestStop()
	}
}

func sortedEpochs(r *trainer.Results) []int {
	epochs := make([]int, 0, len(r.Train))
	for e := range r.Train {
		epochs = append(epochs, e)
	}
	slices.Sort(epochs)
	return epochs
}

// serveMetrics exposes reg on addr until the returned function is called.
// It returns the bound address.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

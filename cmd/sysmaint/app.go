package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/sysmaint/internal/config"
	"github.com/loykin/sysmaint/internal/diag"
	"github.com/loykin/sysmaint/internal/elevation"
	"github.com/loykin/sysmaint/internal/history/factory"
	"github.com/loykin/sysmaint/internal/instance"
	"github.com/loykin/sysmaint/internal/logger"
	"github.com/loykin/sysmaint/internal/maintenance"
	"github.com/loykin/sysmaint/internal/metrics"
	"github.com/loykin/sysmaint/internal/privilege"
	"github.com/loykin/sysmaint/internal/purge"
	"github.com/loykin/sysmaint/internal/reclaim"
)

// app carries the state set up by the root PersistentPreRunE and shared by
// every subcommand.
type app struct {
	flags GlobalFlags
	args  []string

	cfg   *config.Config
	log   *slog.Logger
	gate  *instance.Gate
	coord *elevation.Coordinator

	closersMu sync.Mutex
	closers   []io.Closer
	plans     map[*cobra.Command]func(args []string) maintenance.Plan

	// replaced in tests
	console  io.Writer
	newGate  func(cfg config.InstanceConfig, log *slog.Logger) *instance.Gate
	platform elevation.Platform
	exit     func(int)
	deps     func(a *app) (maintenance.Deps, error)
}

func newApp(args []string) *app {
	return &app{
		args:    args,
		plans:   make(map[*cobra.Command]func([]string) maintenance.Plan),
		console: os.Stderr,
		newGate: func(c config.InstanceConfig, log *slog.Logger) *instance.Gate {
			return instance.Open(c.Name, c.Wait, log)
		},
		exit: os.Exit,
		deps: buildDeps,
	}
}

func (a *app) addCloser(c io.Closer) {
	a.closersMu.Lock()
	defer a.closersMu.Unlock()
	a.closers = append(a.closers, c)
}

// setup loads configuration and logging, takes the instance gate and settles
// elevation for the operations cmd will perform.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if skipSetup(cmd) {
		return nil
	}
	// cobra checks these after the pre-run hooks; a bad invocation must not
	// take the gate or trigger a relaunch.
	if err := cmd.ValidateRequiredFlags(); err != nil {
		return err
	}
	if err := cmd.ValidateFlagGroups(); err != nil {
		return err
	}

	cfg, err := config.Load(a.flags.ConfigPath)
	if err != nil {
		return err
	}
	if a.flags.LogLevel != "" {
		if _, err := logger.ParseLevel(a.flags.LogLevel); err != nil {
			return err
		}
		cfg.Log.Level = a.flags.LogLevel
	}
	a.cfg = cfg

	log, closer, err := logger.New(cfg.Log.Logger(), a.console)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.log = log
	a.addCloser(closer)

	if err := metrics.Register(prometheus.NewRegistry()); err != nil {
		log.Warn("register metrics", "error", err)
	}

	a.gate = a.newGate(cfg.Instance, log)
	ok, err := a.gate.Acquire(a.flags.ElevatedWait)
	if err != nil {
		log.Error("single-instance check failed", "error", err)
	}
	if !ok {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), instance.NotAcquiredMessage)
		return instance.ErrNotAcquired
	}

	plan := a.planFor(cmd, args)
	ops := plan.Operations()
	if len(ops) == 0 {
		ops = elevation.NewOperationSet(elevation.Report)
	}
	a.coord = elevation.NewCoordinator(a.platform, log, a.args, elevation.WithExit(func(code int) {
		a.teardown()
		a.exit(code)
	}))
	decision, err := a.coord.EnsureElevated(cmd.Context(), ops)
	switch decision {
	case elevation.Relaunched:
		return elevation.ErrRelaunchRequested
	case elevation.RelaunchFailed:
		return fmt.Errorf("administrator rights are required for %s: %w", ops, err)
	}
	return err
}

func skipSetup(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return cmd.HasParent() && cmd.Parent().Name() == "completion"
}

func (a *app) planFor(cmd *cobra.Command, args []string) maintenance.Plan {
	if fn, ok := a.plans[cmd]; ok {
		return fn(args)
	}
	return maintenance.Plan{}
}

// teardown releases the gate and closes sinks and log files. Safe to call
// more than once.
func (a *app) teardown() {
	if a.gate != nil {
		_ = a.gate.Release()
	}
	a.closersMu.Lock()
	cs := a.closers
	a.closers = nil
	a.closersMu.Unlock()
	for i := len(cs) - 1; i >= 0; i-- {
		_ = cs[i].Close()
	}
}

// orchestrator wires a maintenance orchestrator from the loaded config.
func (a *app) orchestrator() (*maintenance.Orchestrator, error) {
	d, err := a.deps(a)
	if err != nil {
		return nil, err
	}
	d.Guard = a.coord
	d.Admin = a.coord.State().IsAdministrator
	d.Log = a.log
	return maintenance.New(d), nil
}

func buildDeps(a *app) (maintenance.Deps, error) {
	cfg, log := a.cfg, a.log
	sinks, err := factory.NewMulti(cfg.History.DSN)
	if err != nil {
		return maintenance.Deps{}, err
	}
	a.addCloser(sinks)

	return maintenance.Deps{
		Reclaimer:  reclaim.NewReclaimer(cfg.Memory.Policy(), nil, nil, log, cfg.Memory.Options()),
		Privileges: privilege.NewManager(nil, log),
		Purger:     purge.NewController(nil, log, cfg.Purge.Delay),
		Diag:       diag.NewPipeline(nil, log, cfg.Health.OutputWindow, cfg.Health.Stages()),
		Sink:       sinks,
		Textfile:   cfg.Metrics.Textfile,
	}, nil
}

func (a *app) runPlan(ctx context.Context, w io.Writer, plan maintenance.Plan) error {
	o, err := a.orchestrator()
	if err != nil {
		return err
	}
	rep, err := o.Run(ctx, plan)
	if err != nil {
		return err
	}
	printJSON(w, newPassView(rep))
	if rep.Interrupted {
		return errors.New("maintenance pass interrupted")
	}
	return nil
}

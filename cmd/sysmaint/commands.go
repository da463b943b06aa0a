package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/sysmaint/internal/diag"
	"github.com/loykin/sysmaint/internal/elevation"
	"github.com/loykin/sysmaint/internal/maintenance"
	"github.com/loykin/sysmaint/internal/privilege"
)

// buildRoot creates the root command and its subcommands.
func buildRoot(a *app) *cobra.Command {
	root := createRootCommand(a)
	runFlags := &RunFlags{}
	root.AddCommand(
		createRunCommand(a, runFlags),
		createMemoryCommand(a),
		createPurgeCommand(a),
		createHealthCommand(a),
		createPrivilegesCommand(a),
		createElevationCommand(a),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags and
// the gate/elevation pre-run shared by every subcommand.
func createRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sysmaint",
		Short: "Privileged memory and system-health maintenance",
		Long: `sysmaint trims process working sets, purges the kernel standby and
modified page lists, and runs the DISM/SFC image health checks.

Only one copy runs at a time. Operations that need administrator rights
relaunch the tool elevated when necessary.

Examples:
  sysmaint run --all
  sysmaint memory
  sysmaint health ScanHealth
  sysmaint privileges --log-level=debug`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, args)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}

	root.PersistentFlags().StringVar(&a.flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&a.flags.LogLevel, "log-level", "", "override [log] level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&a.flags.ElevatedWait, strings.TrimPrefix(elevation.Marker, "--"), false, "wait for the launching instance to exit")
	if err := root.PersistentFlags().MarkHidden(strings.TrimPrefix(elevation.Marker, "--")); err != nil {
		panic(err)
	}
	return root
}

// createRunCommand creates the run subcommand
func createRunCommand(a *app, f *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a maintenance pass",
		Long: `Run the selected stages in their fixed order: working-set trim, privilege
adjustment and memory-list purge, self trim, then the diagnostic pipeline.

Examples:
  sysmaint run --memory --purge
  sysmaint run --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPlan(cmd.Context(), cmd.OutOrStdout(), f.plan())
		},
	}
	cmd.Flags().BoolVar(&f.Memory, "memory", false, "trim process working sets")
	cmd.Flags().BoolVar(&f.Purge, "purge", false, "purge kernel memory lists")
	cmd.Flags().BoolVar(&f.Health, "health", false, "run the DISM/SFC diagnostic pipeline")
	cmd.Flags().BoolVar(&f.All, "all", false, "run every stage")
	cmd.MarkFlagsOneRequired("memory", "purge", "health", "all")

	a.plans[cmd] = func([]string) maintenance.Plan { return f.plan() }
	return cmd
}

func (f *RunFlags) plan() maintenance.Plan {
	if f.All {
		return maintenance.Plan{Memory: true, Purge: true, Health: true}
	}
	return maintenance.Plan{Memory: f.Memory, Purge: f.Purge, Health: f.Health}
}

// createMemoryCommand creates the memory subcommand: trim plus purge.
func createMemoryCommand(a *app) *cobra.Command {
	plan := maintenance.Plan{Memory: true, Purge: true}
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Trim working sets and purge memory lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPlan(cmd.Context(), cmd.OutOrStdout(), plan)
		},
	}
	a.plans[cmd] = func([]string) maintenance.Plan { return plan }
	return cmd
}

// createPurgeCommand creates the purge subcommand
func createPurgeCommand(a *app) *cobra.Command {
	plan := maintenance.Plan{Purge: true}
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Purge the standby, low-priority standby and modified page lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPlan(cmd.Context(), cmd.OutOrStdout(), plan)
		},
	}
	a.plans[cmd] = func([]string) maintenance.Plan { return plan }
	return cmd
}

var stageNames = []string{diag.CheckHealth, diag.ScanHealth, diag.RestoreHealth, diag.FileChecker}

func canonicalStage(name string) (string, bool) {
	for _, s := range stageNames {
		if strings.EqualFold(s, name) {
			return s, true
		}
	}
	return "", false
}

// createHealthCommand creates the health subcommand
func createHealthCommand(a *app) *cobra.Command {
	healthPlan := func(args []string) maintenance.Plan {
		p := maintenance.Plan{Health: true}
		if len(args) == 1 {
			p.HealthStage, _ = canonicalStage(args[0])
		}
		return p
	}
	cmd := &cobra.Command{
		Use:   "health [stage]",
		Short: "Run the DISM/SFC diagnostic pipeline or one of its stages",
		Long: `Run CheckHealth, ScanHealth, RestoreHealth and FileChecker (sfc /scannow)
in order, or only the named stage. A failing stage does not stop the next.`,
		ValidArgs: stageNames,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return err
			}
			if len(args) == 1 {
				if _, ok := canonicalStage(args[0]); !ok {
					return fmt.Errorf("unknown stage %q (want one of %s)", args[0], strings.Join(stageNames, ", "))
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPlan(cmd.Context(), cmd.OutOrStdout(), healthPlan(args))
		},
	}
	a.plans[cmd] = healthPlan
	return cmd
}

// createPrivilegesCommand creates the privileges subcommand
func createPrivilegesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "privileges",
		Short: "Try to enable the purge privileges and report which succeeded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := privilege.NewManager(nil, a.log)
			reqs := mgr.EnableAll(privilege.PurgeSet...)
			printJSON(cmd.OutOrStdout(), newPrivilegeReport(reqs, a.coord.State()))
			return nil
		},
	}
}

// createElevationCommand creates the elevation subcommand
func createElevationCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "elevation",
		Short: "Report administrator status and which operations need it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printJSON(cmd.OutOrStdout(), newElevationReport(a.coord.State()))
			return nil
		},
	}
}

// Package cli implements the uproot command-line interface using Cobra.
// The root command takes a lab identifier and device-class flags, breaks
// the selected devices, or restores the whole lab to its baseline.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/uprootnetworks/uproot/internal/breaker"
	"github.com/uprootnetworks/uproot/internal/config"
	"github.com/uprootnetworks/uproot/internal/credential"
	"github.com/uprootnetworks/uproot/internal/journal"
	"github.com/uprootnetworks/uproot/internal/log"
)

var (
	verbose    bool
	jsonOut    bool
	dryRun     bool
	configPath string

	breakAll      bool
	breakSwitch   bool
	breakRouter   bool
	breakFirewall bool
	restore       bool
)

var rootCmd = &cobra.Command{
	Use:   "uproot <labId>",
	Short: "Uproot - break and restore network lab devices",
	Long: `Uproot pushes randomized broken configuration to the devices of an
EVE-NG practice lab, then puts everything back when you are done.

Pick a lab from your inventory and a device class to break, or -d to
restore the whole lab to its known-good baseline.`,
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debugDir := filepath.Join(config.BaseDir(), "debug")
		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			DebugDir:      debugDir,
			RetentionDays: 14,
		}); err != nil {
			cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
		}
		return nil
	},
	RunE: runRoot,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func runRoot(cmd *cobra.Command, args []string) error {
	anyAction := breakAll || breakSwitch || breakRouter || breakFirewall || restore
	if len(args) == 0 || !anyAction {
		return cmd.Help()
	}
	labID := args[0]

	r, j, err := newRunner(labID)
	if err != nil {
		return err
	}
	if j != nil {
		defer j.Close()
	}

	return runSelected(cmd.Context(), labID, r)
}

// labActions is the part of *breaker.Runner the dispatcher needs; tests
// swap in a recording implementation.
type labActions interface {
	BreakAll(ctx context.Context) error
	BreakSwitch(ctx context.Context) error
	BreakRouters(ctx context.Context) error
	BreakFirewalls(ctx context.Context) error
	RestoreAll(ctx context.Context) error
}

// runSelected applies every selected flag in order, so combinations like
// `-r -f` or `-d -s` all take effect.
func runSelected(ctx context.Context, labID string, r labActions) error {
	if restore {
		log.Info("restoring lab to defaults", "lab", labID)
		if err := r.RestoreAll(ctx); err != nil {
			return err
		}
	}
	if breakAll {
		log.Info("breaking all device classes", "lab", labID)
		if err := r.BreakAll(ctx); err != nil {
			return err
		}
	}
	if breakSwitch {
		if err := r.BreakSwitch(ctx); err != nil {
			return err
		}
	}
	if breakRouter {
		if err := r.BreakRouters(ctx); err != nil {
			return err
		}
	}
	if breakFirewall {
		if err := r.BreakFirewalls(ctx); err != nil {
			return err
		}
	}
	return nil
}

// newRunner loads the inventory and wires up credentials and the journal
// for one lab.
func newRunner(labID string) (*breaker.Runner, *journal.Store, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	lab, err := cfg.Lab(labID)
	if err != nil {
		return nil, nil, err
	}

	var j *journal.Store
	if err := os.MkdirAll(config.BaseDir(), 0o755); err == nil {
		j, err = journal.Open(filepath.Join(config.BaseDir(), "journal.db"))
		if err != nil {
			log.Warn("journal unavailable, continuing without it", "err", err)
			j = nil
		}
	}

	creds := credential.NewResolver(labID)
	if dryRun {
		creds.Interactive = false
	}
	return breaker.New(labID, lab, creds, j, dryRun), j, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "plan faults without touching any device")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", fmt.Sprintf("inventory file (default %s)", config.DefaultPath()))

	rootCmd.Flags().BoolVarP(&breakAll, "all", "a", false, "break routers, firewalls and the switch")
	rootCmd.Flags().BoolVarP(&breakSwitch, "switch", "s", false, "break the lab switch")
	rootCmd.Flags().BoolVarP(&breakRouter, "router", "r", false, "break the lab routers")
	rootCmd.Flags().BoolVarP(&breakFirewall, "firewall", "f", false, "break the lab firewalls")
	rootCmd.Flags().BoolVarP(&restore, "default", "d", false, "restore every device to its baseline")
}

package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bamsammich/cellar/internal/bottle"
	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/result"
	"github.com/bamsammich/cellar/internal/stats"
	"github.com/bamsammich/cellar/internal/ui"
	"github.com/bamsammich/cellar/internal/versioning"
)

// recordState persists the active state id into the bottle config.
func (a *app) recordState(cfg bottle.Config, id int) {
	cfg.Versioning = true
	cfg.State = id
	if err := a.bottles.Save(cfg); err != nil {
		a.logger.Warn("could not record active state", "bottle", cfg.Name, "state", id, "error", err)
	}
}

func initVersioning(cmd *cobra.Command, a *app, cfg bottle.Config, message string) error {
	res, err := a.execute("Initializing "+cfg.Name, func(events event.Sink, collector *stats.Collector) result.Result {
		return a.manager(cfg, events, collector).Init(cmd.Context(), message)
	})
	if st, ok := res.Data.(versioning.State); ok && res.OK {
		a.recordState(cfg, st.ID)
	}
	return err
}

func newInitCmd(a *app) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "init BOTTLE",
		Short: "Start recording states for a bottle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.lookup(args[0])
			if err != nil {
				return err
			}
			return initVersioning(cmd, a, cfg, message)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "Initial state", "message of the first state")
	return cmd
}

func newCommitCmd(a *app) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "commit BOTTLE",
		Short: "Record the bottle's current contents as a new state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.lookup(args[0])
			if err != nil {
				return err
			}
			res, err := a.execute("Committing "+cfg.Name, func(events event.Sink, collector *stats.Collector) result.Result {
				return a.manager(cfg, events, collector).CreateState(cmd.Context(), message)
			})
			if st, ok := res.Data.(versioning.State); ok && res.OK {
				a.recordState(cfg, st.ID)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "state message")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newStatesCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "states BOTTLE",
		Short: "Show a bottle's state history",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := a.lookup(args[0])
			if err != nil {
				return err
			}
			m := a.manager(cfg, nil, nil)
			res := m.ListStates()
			if !res.OK {
				return a.report(res)
			}
			states, _ := res.Data.(versioning.States)
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(states)
			}
			fmt.Fprintln(a.stdout, ui.StateTable(states))
			fmt.Fprintln(a.stdout, ui.StateSummary(m.Kind(), states))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the history as JSON")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "restore BOTTLE STATE",
		Short: "Bring a bottle back to a recorded state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.lookup(args[0])
			if err != nil {
				return err
			}
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid state id %q", args[1])
			}
			if dryRun {
				return a.planRestore(cfg, id)
			}
			_, err = a.execute(fmt.Sprintf("Restoring %s to %d", cfg.Name, id), func(events event.Sink, collector *stats.Collector) result.Result {
				return a.manager(cfg, events, collector).SetState(cmd.Context(), id, func() {
					a.recordState(cfg, id)
				})
			})
			return err
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "list what would change without touching the bottle")
	return cmd
}

func (a *app) planRestore(cfg bottle.Config, id int) error {
	res := a.manager(cfg, nil, nil).PlanRestore(id)
	if !res.OK {
		return a.report(res)
	}
	plan, _ := res.Data.(versioning.RestorePlan)
	for _, p := range plan.Deletes {
		fmt.Fprintf(a.stdout, "delete  %s\n", p)
	}
	for _, p := range plan.Installs {
		fmt.Fprintf(a.stdout, "install %s\n", p)
	}
	return a.report(res)
}

func newReinitCmd(a *app) *cobra.Command {
	var (
		message string
		yes     bool
	)
	cmd := &cobra.Command{
		Use:   "reinit BOTTLE",
		Short: "Discard all history and start over from the current contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.lookup(args[0])
			if err != nil {
				return err
			}
			if !yes {
				return &exitError{msg: "reinit deletes every recorded state; pass --yes to confirm", code: 2}
			}
			res, err := a.execute("Reinitializing "+cfg.Name, func(events event.Sink, collector *stats.Collector) result.Result {
				return a.manager(cfg, events, collector).Reinitialize(cmd.Context(), message)
			})
			if st, ok := res.Data.(versioning.State); ok && res.OK {
				a.recordState(cfg, st.ID)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "Initial state", "message of the new first state")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm that existing history is discarded")
	return cmd
}

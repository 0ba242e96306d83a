package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/cellar/internal/backup"
	"github.com/bamsammich/cellar/internal/bottle"
	"github.com/bamsammich/cellar/internal/event"
	"github.com/bamsammich/cellar/internal/result"
	"github.com/bamsammich/cellar/internal/stats"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		scope string
		af    archiveFlags
	)
	cmd := &cobra.Command{
		Use:   "export BOTTLE [DEST]",
		Short: "Back up a bottle's configuration or its whole tree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := backup.ParseScope(scope)
			if err != nil {
				return err
			}
			cfg, err := a.lookup(args[0])
			if err != nil {
				return err
			}
			dest := defaultExportName(cfg, sc)
			if len(args) == 2 {
				dest = args[1]
			}
			level, bwlimit := af.resolve(a, cmd.Flags())
			_, err = a.execute("Exporting "+cfg.Name, func(events event.Sink, collector *stats.Collector) result.Result {
				return a.coordinator(level, bwlimit, events, collector).Export(cmd.Context(), cfg, sc, dest)
			})
			return err
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(backup.ScopeFull), "what to export: config or full")
	af.register(cmd.Flags())
	return cmd
}

func defaultExportName(cfg bottle.Config, sc backup.Scope) string {
	if sc == backup.ScopeConfig {
		return cfg.Path + ".yml"
	}
	return backup.DefaultArchiveName(cfg, time.Now())
}

func newImportCmd(a *app) *cobra.Command {
	var (
		scope string
		af    archiveFlags
	)
	cmd := &cobra.Command{
		Use:   "import SOURCE",
		Short: "Restore a bottle from an exported configuration or archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			if !cmd.Flags().Changed("scope") && (strings.HasSuffix(src, ".yml") || strings.HasSuffix(src, ".yaml")) {
				scope = string(backup.ScopeConfig)
			}
			sc, err := backup.ParseScope(scope)
			if err != nil {
				return err
			}
			_, bwlimit := af.resolve(a, cmd.Flags())
			_, err = a.execute("Importing "+src, func(events event.Sink, collector *stats.Collector) result.Result {
				return a.coordinator(0, bwlimit, events, collector).Import(cmd.Context(), sc, src)
			})
			return err
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(backup.ScopeFull), "what SOURCE holds: config or full (.yml implies config)")
	af.register(cmd.Flags())
	return cmd
}

func newDuplicateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate BOTTLE NEW_NAME",
		Short: "Copy a bottle, with its history when the backend can carry it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.lookup(args[0])
			if err != nil {
				return err
			}
			res, err := a.execute(fmt.Sprintf("Duplicating %s", cfg.Name), func(events event.Sink, collector *stats.Collector) result.Result {
				return a.coordinator(0, 0, events, collector).Duplicate(cmd.Context(), cfg, args[1])
			})
			if dup, ok := res.Data.(bottle.Config); ok && res.OK {
				fmt.Fprintf(a.stdout, "created %s at %s\n", dup.Name, a.bottles.GetBottlePath(dup))
			}
			return err
		},
	}
}

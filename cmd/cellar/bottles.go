package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/bamsammich/cellar/internal/bottle"
	"github.com/bamsammich/cellar/internal/platform"
	"github.com/bamsammich/cellar/internal/snapshot"
	"github.com/bamsammich/cellar/internal/ui"
	"github.com/bamsammich/cellar/internal/versioning"
)

func newBottlesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "bottles",
		Aliases: []string{"list", "ls"},
		Short:   "List managed bottles",
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			bottles := a.bottles.Bottles()
			if len(bottles) == 0 {
				fmt.Fprintf(a.stderr, "no bottles in %s\n", a.bottles.Root())
				return nil
			}
			for _, b := range bottles {
				mark := " "
				if b.Versioning {
					mark = "✓"
				}
				fmt.Fprintf(a.stdout, "%s %-24s %s\n", mark, b.Name, a.bottles.GetBottlePath(b))
			}
			return nil
		},
	}
}

func newCreateCmd(a *app) *cobra.Command {
	var (
		cow      bool
		versions bool
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an empty bottle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := bottle.NewConfig(args[0])
			mkdir := func(dir string) error {
				if cow {
					return snapshot.New(dir, snapshot.Options{
						Logger:     a.logger,
						Subvolumes: cfg.InternalSubvolumes(),
					}).CreateBottle(cmd.Context())
				}
				return os.Mkdir(dir, 0o755)
			}
			created, err := a.bottles.CreateBottleWith(cfg, mkdir)
			if err != nil {
				return &exitError{msg: err.Error(), code: 1}
			}
			fmt.Fprintf(a.stdout, "created %s at %s\n", created.Name, a.bottles.GetBottlePath(created))
			if !versions {
				return nil
			}
			return initVersioning(cmd, a, created, "Initial state")
		},
	}
	cmd.Flags().BoolVar(&cow, "cow", false, "create the bottle as a btrfs subvolume")
	cmd.Flags().BoolVar(&versions, "versioning", false, "record an initial state right away")
	return cmd
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info BOTTLE",
		Short: "Show a bottle's location, backend and history summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := a.lookup(args[0])
			if err != nil {
				return err
			}
			root := a.bottles.GetBottlePath(cfg)
			m := a.manager(cfg, nil, nil)

			label := lipgloss.NewStyle().Foreground(ui.ColorMuted).Width(12)
			row := func(k, v string) { fmt.Fprintln(a.stdout, label.Render(k)+v) }
			row("name", cfg.Name)
			row("path", root)
			row("filesystem", platform.Filesystem(root))
			row("backend", m.Kind())
			row("created", ui.FormatTimestamp(cfg.Created))
			if !m.IsInitialized() {
				row("history", "not initialized")
				return nil
			}
			res := m.ListStates()
			if !res.OK {
				return a.report(res)
			}
			states, _ := res.Data.(versioning.States)
			row("history", ui.StateSummary(m.Kind(), states))
			return nil
		},
	}
}

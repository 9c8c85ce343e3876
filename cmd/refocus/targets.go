package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/refocus/refocus/internal/logging"
	"github.com/refocus/refocus/internal/models"
	"github.com/refocus/refocus/internal/targets"
)

func newTargetsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Show or change the applications being tracked",
		Long: `The target list is stored in a YAML file. A running daemon picks up
changes to it immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTargets(cmd, opts, func(store *targets.FileStore) error {
				set, err := store.Load()
				if err != nil {
					return err
				}
				printTargets(cmd.OutOrStdout(), store.Path(), set)
				return nil
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List target applications",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withTargets(cmd, opts, func(store *targets.FileStore) error {
					set, err := store.Load()
					if err != nil {
						return err
					}
					printTargets(cmd.OutOrStdout(), store.Path(), set)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "add APP...",
			Short: "Add applications to the target list",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withTargets(cmd, opts, func(store *targets.FileStore) error {
					set, err := store.Add(args...)
					if err != nil {
						return err
					}
					printTargets(cmd.OutOrStdout(), store.Path(), set)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:     "remove APP...",
			Aliases: []string{"rm"},
			Short:   "Remove applications from the target list",
			Args:    cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withTargets(cmd, opts, func(store *targets.FileStore) error {
					set, err := store.Remove(args...)
					if err != nil {
						return err
					}
					printTargets(cmd.OutOrStdout(), store.Path(), set)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set [APP...]",
			Short: "Replace the target list; no arguments clears it",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withTargets(cmd, opts, func(store *targets.FileStore) error {
					set := models.NewTargetSet(args...)
					if err := store.Save(set); err != nil {
						return err
					}
					printTargets(cmd.OutOrStdout(), store.Path(), set)
					return nil
				})
			},
		},
	)
	return cmd
}

// withTargets opens the target file without touching the database.
func withTargets(cmd *cobra.Command, opts *rootOptions, fn func(*targets.FileStore) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	path, err := resolveTargetsPath(cfg)
	if err != nil {
		return err
	}

	logger, closeLog := logging.New(logging.Options{Output: cmd.ErrOrStderr(), Debug: cfg.Debug})
	defer func() { _ = closeLog() }()

	return fn(targets.NewFileStore(logger.Named("targets"), path))
}

func printTargets(out io.Writer, path string, set models.TargetSet) {
	if len(set) == 0 {
		_, _ = fmt.Fprintf(out, "No target applications (%s)\n", path)
		return
	}
	_, _ = fmt.Fprintf(out, "Target applications (%s):\n", path)
	for _, s := range set.Sorted() {
		_, _ = fmt.Fprintf(out, "  %s\n", s)
	}
}

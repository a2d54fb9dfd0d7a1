package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func (a *app) backupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Inspect, restore and prune snapshots of the managed files",
	}

	cmd.AddCommand(
		a.backupsListCmd(),
		a.backupsShowCmd(),
		a.backupsRestoreCmd(),
		a.backupsPruneCmd(),
	)
	return cmd
}

func (a *app) backupsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List snapshots, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, release, err := a.open(commandContext(cmd))
			if err != nil {
				return err
			}
			defer release()

			infos, err := b.Backups()
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(a.out, "No backups found.")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIMESTAMP\tCREATED\tCONFIG\tHOSTS")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%d B\t%d B\n", info.Timestamp, formatTime(info.Created), info.ConfigSize, info.HostsSize)
			}
			return w.Flush()
		},
	}
}

func (a *app) backupsShowCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "show <timestamp>",
		Short: "Print one file of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			which, err := parseFile(file)
			if err != nil {
				return err
			}

			b, release, err := a.open(commandContext(cmd))
			if err != nil {
				return err
			}
			defer release()

			content, err := b.BackupContent(args[0], which)
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, content)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "config", "Which file to print: config or hosts")
	return cmd
}

func (a *app) backupsRestoreCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "restore <timestamp>",
		Short: "Put a snapshot back in place, then test and reload nginx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				confirmed := false
				err := huh.NewConfirm().
					Title(fmt.Sprintf("Restore the nginx config and hosts file from %s?", args[0])).
					Description("The current files are backed up first.").
					Affirmative("Restore").
					Negative("Cancel").
					Value(&confirmed).
					Run()
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(a.out, "Cancelled.")
					return nil
				}
			}

			b, release, err := a.open(commandContext(cmd))
			if err != nil {
				return err
			}
			defer release()

			res, err := b.Restore(args[0])
			if err != nil {
				return err
			}
			printResult(a.out, res)
			return resultError(res)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func (a *app) backupsPruneCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.remote {
				return errors.New("prune runs locally; drop --remote and run it as the user owning the backup directory")
			}

			s, err := a.settings()
			if err != nil {
				return err
			}
			l, release, err := a.openLocal(commandContext(cmd), s)
			if err != nil {
				return err
			}
			defer release()

			removed, err := l.Prune(keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Removed %d backup(s), kept the newest %d.\n", len(removed), keep)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 10, "Number of snapshots to keep")
	return cmd
}

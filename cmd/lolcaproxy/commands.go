package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lukaszraczylo/lolcaproxy/internal/client"
	"github.com/lukaszraczylo/lolcaproxy/internal/config"
	"github.com/lukaszraczylo/lolcaproxy/internal/engine"
	"github.com/lukaszraczylo/lolcaproxy/internal/oracle"
	"github.com/lukaszraczylo/lolcaproxy/internal/tui"
)

func (a *app) addCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "add <host>",
		Short: "Proxy a host name to a local port",
		Example: `  lolcaproxy add myapp.local -p 3000
  lolcaproxy add api.local            # uses localPort from settings`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("port") {
				s, err := a.settings()
				if err != nil {
					return err
				}
				port = s.LocalPort
			}

			b, release, err := a.open(commandContext(cmd))
			if err != nil {
				return err
			}
			defer release()

			res, err := b.Add(args[0], port)
			if err != nil {
				return err
			}
			printResult(a.out, res)
			return resultError(res)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Local port to proxy to (default: localPort from settings)")
	return cmd
}

func (a *app) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <host>",
		Aliases: []string{"rm"},
		Short:   "Remove a proxy added by lolcaproxy",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, release, err := a.open(commandContext(cmd))
			if err != nil {
				return err
			}
			defer release()

			res, err := b.Remove(args[0])
			if err != nil {
				return err
			}
			printResult(a.out, res)
			return resultError(res)
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List server names and hosts entries",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, release, err := a.open(commandContext(cmd))
			if err != nil {
				return err
			}
			defer release()

			res, err := b.List()
			if err != nil {
				return err
			}
			if !res.Success {
				printResult(a.errOut, res)
				return resultError(res)
			}

			if jsonOut {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Data)
			}
			printList(a.out, res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent add, remove and restore operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, release, err := a.open(commandContext(cmd))
			if err != nil {
				return err
			}
			defer release()

			records, err := b.History(limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(a.out, "No operations recorded.")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tOP\tHOST\tPORT\tRESULT\tMESSAGE")
			for _, r := range records {
				result := "ok"
				if !r.Success {
					result = r.Code
				}
				port := "-"
				if r.Port > 0 {
					port = strconv.Itoa(r.Port)
				}
				host := r.Host
				if host == "" {
					host = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", formatTime(r.Time), r.Op, host, port, result, r.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show settings, managed files, nginx and daemon state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.status(commandContext(cmd))
		},
	}
}

func (a *app) status(ctx context.Context) error {
	s, err := a.settings()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Settings:\t%s\n", a.configPath)

	missing := make(map[string]bool)
	for _, err := range config.CheckPaths(s) {
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			missing[ve.Field] = true
		}
	}
	for _, p := range []struct{ label, field, path string }{
		{"nginx config:", "nginxConf", s.NginxConf},
		{"hosts file:", "hostsFile", s.HostsFile},
		{"nginx binary:", "nginxBin", s.NginxBin},
	} {
		state := "✓"
		if missing[p.field] {
			state = "✗ not found"
		}
		fmt.Fprintf(w, "%s\t%s %s\n", p.label, p.path, state)
	}
	fmt.Fprintf(w, "Backups:\t%s\n", s.BackupDir)
	fmt.Fprintf(w, "Default port:\t%d\n", s.LocalPort)

	procs, err := oracle.FindProcesses(ctx, s.NginxBin)
	switch {
	case err != nil:
		fmt.Fprintf(w, "nginx:\tunknown (%v)\n", err)
	case len(procs) == 0:
		fmt.Fprintf(w, "nginx:\tnot running\n")
	default:
		pids := make([]string, len(procs))
		for i, p := range procs {
			pids[i] = strconv.Itoa(int(p.PID))
		}
		fmt.Fprintf(w, "nginx:\trunning (pid %s)\n", strings.Join(pids, ", "))
	}

	if client.IsConnected(a.socketPath) {
		c := client.New(a.socketPath)
		if err := c.Connect(); err == nil {
			defer c.Close()
			if st, err := c.Status(); err == nil {
				fmt.Fprintf(w, "Daemon:\trunning v%s, up %ds, %d requests\n", st.Version, st.Uptime, st.RequestCount)
			}
		}
	} else {
		fmt.Fprintf(w, "Daemon:\tnot running\n")
	}

	if len(missing) > 0 && !a.remote {
		return nil
	}

	b, release, err := a.open(ctx)
	if err != nil {
		fmt.Fprintf(w, "Proxies:\tunavailable (%v)\n", err)
		return nil
	}
	defer release()

	res, err := b.List()
	if err != nil || !res.Success {
		fmt.Fprintf(w, "Proxies:\tunavailable\n")
		return nil
	}
	sync := "in sync"
	if !res.InSync() {
		sync = fmt.Sprintf("%d only in config, %d only in hosts", len(res.Data.OnlyInConfig), len(res.Data.OnlyInHosts))
	}
	fmt.Fprintf(w, "Proxies:\t%d (%s)\n", len(res.Data.Proxies), sync)
	return nil
}

func printResult(w io.Writer, res *engine.Result) {
	if res.Success {
		fmt.Fprintf(w, "✓ %s\n", res.Message)
	} else {
		fmt.Fprintf(w, "✗ %s\n", res.Message)
		if res.ErrorDetail != "" {
			fmt.Fprintf(w, "  %s\n", strings.TrimSpace(res.ErrorDetail))
		}
	}
	if res.Data != nil && res.Data.Snapshot != nil {
		fmt.Fprintf(w, "  backup: %s\n", res.Data.Snapshot.Timestamp)
	}
}

func printList(w io.Writer, res *engine.Result) {
	items := tui.ItemsFromResult(res)
	if len(items) == 0 {
		fmt.Fprintln(w, "No entries found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tPORT\tNGINX\tHOSTS\tMANAGED")
	for _, it := range items {
		port := "-"
		if it.Port > 0 {
			port = strconv.Itoa(it.Port)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.Host, port, mark(it.InConfig), mark(it.InHosts), mark(it.Managed))
	}
	_ = tw.Flush()

	if len(res.Data.OnlyInConfig) > 0 {
		fmt.Fprintf(w, "\nOnly in nginx config: %s\n", strings.Join(res.Data.OnlyInConfig, ", "))
	}
	if len(res.Data.OnlyInHosts) > 0 {
		fmt.Fprintf(w, "Only in hosts file: %s\n", strings.Join(res.Data.OnlyInHosts, ", "))
	}
}

func mark(ok bool) string {
	if ok {
		return "●"
	}
	return "○"
}

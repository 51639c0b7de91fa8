package main

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"durasched/internal/admin"
	"durasched/internal/app"
	"durasched/internal/scheduler"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Schedule a job on the running daemon",
	Long: `Schedule a handler to run once. --delay and --at are exclusive; with
neither the job runs as soon as it is stored. --id defaults to a random UUID.

Examples:
  durasched add --handler log.message --args '{"text":"backup done","level":"warn"}' --delay 1h
  durasched add --id nightly-hook --handler webhook.post \
      --args '{"url":"https://hooks.example.com/x","body":{"ok":true}}' --at 2026-01-02T03:00:00Z`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		handler, _ := cmd.Flags().GetString("handler")
		rawArgs, _ := cmd.Flags().GetString("args")
		delay, _ := cmd.Flags().GetDuration("delay")
		at, _ := cmd.Flags().GetString("at")

		req := admin.AddRequest{ID: strings.TrimSpace(id), Handler: handler}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		if rawArgs != "" {
			if !json.Valid([]byte(rawArgs)) {
				return errors.WithHint(errors.New("--args is not valid JSON"), `quote the document, e.g. --args '{"text":"hi"}'`)
			}
			req.Args = json.RawMessage(rawArgs)
		}
		if cmd.Flags().Changed("delay") {
			req.Delay = delay.String()
		}
		if at != "" {
			t, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return errors.Wrap(err, "--at must be RFC3339")
			}
			req.At = &t
		}

		c, err := client()
		if err != nil {
			return err
		}
		job, err := c.Add(cmd.Context(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(job)
		}
		pterm.Success.Printfln("scheduled %s (%s) at %s", job.ID, job.Action, job.ShouldRun.Local().Format(time.RFC3339))
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client()
		if err != nil {
			return err
		}
		info, err := c.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(info)
		}
		return renderJobs([]scheduler.JobInfo{info})
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List jobs ordered by due time",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client()
		if err != nil {
			return err
		}
		jobs, err := c.List(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(jobs)
		}
		if len(jobs) == 0 {
			pterm.Info.Println("no jobs scheduled")
			return nil
		}
		return renderJobs(jobs)
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a job (no-op if it does not exist)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client()
		if err != nil {
			return err
		}
		if err := c.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		if !jsonOutput {
			pterm.Success.Printfln("removed %s", args[0])
		}
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove every job in the namespace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := pterm.DefaultInteractiveConfirm.
				WithDefaultText("Delete every scheduled job in this namespace?").
				Show()
			if err != nil {
				return errors.WithHint(err, "pass --yes when not running in a terminal")
			}
			if !ok {
				pterm.Info.Println("aborted")
				return nil
			}
		}
		c, err := client()
		if err != nil {
			return err
		}
		if err := c.Clean(cmd.Context()); err != nil {
			return err
		}
		if !jsonOutput {
			pterm.Success.Println("namespace cleaned")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection state and armed timers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client()
		if err != nil {
			return err
		}
		snap, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(snap)
		}
		ready := pterm.Red("not ready")
		if snap.Ready {
			ready = pterm.Green("ready")
		}
		pterm.Info.Printfln("namespace %s: %s (%s)", snap.Name, snap.State, ready)
		pterm.Info.Printfln("armed timers: %d, pending removal: %d", len(snap.Timers), len(snap.Pending))
		if tasks, err := c.Tasks(cmd.Context()); err == nil {
			pterm.Info.Printfln("daemon goroutines: %d active, %d started", tasks.Counters.Active, tasks.Counters.Started)
		}
		if len(snap.Timers) == 0 {
			return nil
		}
		data := pterm.TableData{{"ID", "DUE", "IN"}}
		now := time.Now()
		for _, tm := range snap.Timers {
			data = append(data, []string{tm.ID, tm.Due.Local().Format(time.RFC3339), until(now, tm.Due)})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func init() {
	addCmd.Flags().String("id", "", "job id (default: random UUID)")
	addCmd.Flags().String("handler", "", "registered handler name")
	addCmd.Flags().String("args", "", "handler arguments as a JSON document")
	addCmd.Flags().Duration("delay", 0, "run after this long (e.g. 90s, 10m)")
	addCmd.Flags().String("at", "", "run at this RFC3339 time")
	_ = addCmd.MarkFlagRequired("handler")
	addCmd.MarkFlagsMutuallyExclusive("delay", "at")

	cleanCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
}

// client reads the admin section of the config to find the daemon.
func client() (*admin.Client, error) {
	cfg, err := app.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	ac, err := cfg.Admin.Resolve()
	if err != nil {
		return nil, err
	}
	addr := ac.Addr
	if strings.TrimSpace(adminAddr) != "" {
		addr = adminAddr
	} else if !ac.Enabled {
		return nil, errors.WithHint(errors.New("admin API is disabled"), "set admin.enabled: true on the daemon or pass --addr")
	}
	return admin.NewClient(addr, ac.Token, nil), nil
}

func renderJobs(jobs []scheduler.JobInfo) error {
	data := pterm.TableData{{"ID", "NAMESPACE", "SHOULD RUN", "IN"}}
	now := time.Now()
	for _, j := range jobs {
		data = append(data, []string{j.ID, j.Namespace, j.ShouldRun.Local().Format(time.RFC3339), until(now, j.ShouldRun)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func until(now, t time.Time) string {
	d := t.Sub(now)
	if d <= 0 {
		return "due"
	}
	return d.Round(time.Second).String()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "write output")
	}
	return nil
}

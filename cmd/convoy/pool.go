package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/convoy/internal/pool"
)

func newPoolCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "List, inspect and register worker pools",
	}
	cmd.AddCommand(
		newPoolListCmd(g),
		newPoolWorkersCmd(g),
		newPoolRegisterCmd(g),
	)
	return cmd
}

func newPoolListCmd(g *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered pools",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			resp, err := g.client().Pools(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, resp)
			}
			if len(resp.Pools) == 0 {
				fmt.Fprintln(out, "No pools registered.")
				return nil
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "ID\tNAME\tWORKERS\tAVAILABLE\tPENDING\tACTIVE\tHOME")
			for _, p := range resp.Pools {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					p.Config.ID, p.Config.Name, p.Config.WorkerCount, p.Available, p.Pending, p.Active, p.Config.Home)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newPoolWorkersCmd(g *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "workers <pool-id>",
		Short: "Show every worker of a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			resp, err := g.client().Workers(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, resp)
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "ID\tSTATUS\tTASK\tLOCATION\tPHASE")
			for _, w := range resp.Workers {
				task := w.TaskID
				if task == "" {
					task = "-"
				}
				phase := "-"
				if w.Status != pool.StatusAvailable {
					phase = fmt.Sprintf("%s/%ss", formatSeconds(w.Elapsed(resp.Now)), formatSeconds(w.PhaseSeconds))
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", w.ID, w.Status, task, w.Location, phase)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newPoolRegisterCmd(g *globalOptions) *cobra.Command {
	var (
		cfg  pool.Config
		home string
	)
	cmd := &cobra.Command{
		Use:   "register <pool-id>",
		Short: "Register a new pool on a running instance",
		Long: `Register a new pool on a running instance. Pools are immutable once
registered; pools listed in the config file are registered at start.`,
		Example: "  convoy pool register drones --workers 4 --home 0,0,50 --travel-speed 2",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ID = args[0]
			if home != "" {
				at, err := parsePoint(home)
				if err != nil {
					return err
				}
				cfg.Home = at
			}
			cfg = cfg.WithDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			got, err := g.client().RegisterPool(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s with %d workers\n", got.ID, got.WorkerCount)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Name, "name", "", "display name (defaults to the id)")
	f.IntVar(&cfg.WorkerCount, "workers", 1, "fixed worker count")
	f.StringVar(&home, "home", "", "home location as x,y,z")
	f.Float64Var(&cfg.TravelSpeed, "travel-speed", 1, "divides travel and return durations")
	f.Float64Var(&cfg.ProcessSpeed, "process-speed", 1, "divides processing durations")
	return cmd
}

func newLogCmd(g *globalOptions) *cobra.Command {
	var (
		poolID  string
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recently finished tasks from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			resp, err := g.client().Log(ctx, poolID, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, resp)
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "TASK\tPOOL\tSTATUS\tWORKER\tFINISHED\tREASON")
			for _, e := range resp.Entries {
				worker, reason := e.WorkerID, e.Reason
				if worker == "" {
					worker = "-"
				}
				if reason == "" {
					reason = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.TaskID, e.Pool, e.Status, worker, formatSeconds(e.FinishedAt), reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&poolID, "pool", "", "only this pool")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max entries")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

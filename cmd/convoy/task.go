package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/convoy/internal/geom"
	"github.com/mattjoyce/convoy/internal/inspect"
	"github.com/mattjoyce/convoy/internal/queue"
)

func newTaskCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Submit, inspect and cancel tasks",
	}
	cmd.AddCommand(
		newTaskSubmitCmd(g),
		newTaskGetCmd(g),
		newTaskCancelCmd(g),
		newTaskListCmd(g),
		newTaskInspectCmd(g),
	)
	return cmd
}

type submitOptions struct {
	file     string
	def      queue.Definition
	location string
	jsonOut  bool
}

func newTaskSubmitCmd(g *globalOptions) *cobra.Command {
	opts := &submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task to a pool",
		Example: `  convoy task submit --pool trucks --at 10,0,0 --priority 5 --travel 30 --process 60 --return 30
  convoy task submit --file delivery.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, err := opts.definition(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			resp, err := g.client().Submit(ctx, def)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, resp)
			}
			fmt.Fprintf(out, "%s %s\n", resp.TaskID, resp.Status)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.file, "file", "f", "", "read the task definition from a YAML or JSON file (flags override it)")
	f.StringVar(&opts.def.Pool, "pool", "", "target pool id")
	f.StringVar(&opts.def.Type, "type", "", "task type label")
	f.StringVar(&opts.def.TargetRef, "ref", "", "external target reference")
	f.StringVar(&opts.location, "at", "", "target location as x,y,z")
	f.Float64Var(&opts.def.Priority, "priority", 0, "higher runs first")
	f.Float64Var(&opts.def.TravelSeconds, "travel", 0, "base travel seconds")
	f.Float64Var(&opts.def.ProcessSeconds, "process", 0, "base processing seconds")
	f.Float64Var(&opts.def.ReturnSeconds, "return", 0, "base return seconds")
	f.StringToInt64Var(&opts.def.Rewards, "reward", nil, "reward amounts as name=amount")
	f.StringToStringVar(&opts.def.Metadata, "meta", nil, "metadata as key=value")
	f.BoolVar(&opts.jsonOut, "json", false, "output JSON")
	return cmd
}

// definition merges the file (if any) with explicitly set flags.
func (o *submitOptions) definition(cmd *cobra.Command) (queue.Definition, error) {
	var def queue.Definition
	if o.file != "" {
		data, err := os.ReadFile(o.file)
		if err != nil {
			return def, fmt.Errorf("read task file: %w", err)
		}
		if err := yaml.Unmarshal(data, &def); err != nil {
			return def, fmt.Errorf("parse task file %s: %w", o.file, err)
		}
	}

	f := cmd.Flags()
	set := func(name string, apply func()) {
		if o.file == "" || f.Changed(name) {
			apply()
		}
	}
	set("pool", func() { def.Pool = o.def.Pool })
	set("type", func() { def.Type = o.def.Type })
	set("ref", func() { def.TargetRef = o.def.TargetRef })
	set("priority", func() { def.Priority = o.def.Priority })
	set("travel", func() { def.TravelSeconds = o.def.TravelSeconds })
	set("process", func() { def.ProcessSeconds = o.def.ProcessSeconds })
	set("return", func() { def.ReturnSeconds = o.def.ReturnSeconds })
	set("reward", func() { def.Rewards = o.def.Rewards })
	set("meta", func() { def.Metadata = o.def.Metadata })
	if o.location != "" {
		at, err := parsePoint(o.location)
		if err != nil {
			return def, err
		}
		def.Location = at
	}

	if def.Pool == "" {
		return def, fmt.Errorf("--pool is required")
	}
	return def, def.Validate()
}

func parsePoint(s string) (geom.Point3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return geom.Point3{}, fmt.Errorf("location %q: want x,y,z", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geom.Point3{}, fmt.Errorf("location %q: %w", s, err)
		}
		v[i] = f
	}
	return geom.Pt(v[0], v[1], v[2]), nil
}

func newTaskGetCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			t, err := g.client().Task(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		},
	}
}

func newTaskCancelCmd(g *globalOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending or active task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			resp, err := g.client().Cancel(ctx, args[0], reason)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if resp.Cancelled {
				fmt.Fprintf(out, "%s cancelled\n", resp.Task.ID)
			} else {
				fmt.Fprintf(out, "%s already %s\n", resp.Task.ID, resp.Task.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "recorded cancel reason")
	return cmd
}

func newTaskListCmd(g *globalOptions) *cobra.Command {
	var (
		status  string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "list <pool-id>",
		Short: "List pending or active tasks of a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			resp, err := g.client().PoolTasks(ctx, args[0], status)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			return printTasks(cmd.OutOrStdout(), resp.Tasks)
		},
	}
	cmd.Flags().StringVar(&status, "status", "pending", "pending or active")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newTaskInspectCmd(g *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "inspect <task-id>",
		Short: "Show a task's timeline and its worker's live phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			var (
				report string
				err    error
			)
			if jsonOut {
				report, err = inspect.BuildJSONReport(ctx, g.client(), args[0])
				report += "\n"
			} else {
				report, err = inspect.BuildReport(ctx, g.client(), args[0])
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), report)
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

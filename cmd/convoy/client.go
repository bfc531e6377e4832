package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/convoy/internal/api"
	"github.com/mattjoyce/convoy/internal/queue"
)

const requestTimeout = 15 * time.Second

func (g *globalOptions) client() *api.Client {
	return api.NewClient(g.apiURL, g.token)
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func printTasks(w io.Writer, tasks []queue.Task) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tPOOL\tSTATUS\tPRIORITY\tTARGET\tWORKER\tSUBMITTED")
	for _, t := range tasks {
		worker := t.WorkerID
		if worker == "" {
			worker = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%s\t%s\t%s\n",
			t.ID, t.Def.Pool, t.Status, t.Def.Priority, t.Def.Location, worker, formatSeconds(t.SubmittedAt))
	}
	return tw.Flush()
}

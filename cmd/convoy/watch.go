package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/convoy/internal/tui/watch"
)

func newWatchCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live pool and worker board for a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p := tea.NewProgram(watch.New(ctx, g.client()), tea.WithAltScreen(), tea.WithContext(ctx))
			_, err := p.Run()
			return err
		},
	}
}

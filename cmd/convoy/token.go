package main

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/convoy/internal/auth"
	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/tui/tokenmgr"
)

var errNoScopes = errors.New("no scopes selected")

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}
	cmd.AddCommand(newTokenNewCmd())
	return cmd
}

func newTokenNewCmd() *cobra.Command {
	var scopes []string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a scoped token and print it as a config snippet",
		Long: `Generate a random bearer token. Without --scopes an interactive picker
lists every scope. Paste the printed snippet under api.auth.tokens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(scopes) == 0 {
				picked, err := pickScopes()
				if err != nil {
					return err
				}
				scopes = picked
			}
			if err := checkScopes(scopes); err != nil {
				return err
			}
			token, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			snippet := struct {
				Tokens []config.APIToken `yaml:"tokens"`
			}{Tokens: []config.APIToken{{Token: token, Scopes: scopes}}}
			data, err := yaml.Marshal(snippet)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "comma-separated scopes; skips the picker")
	return cmd
}

func pickScopes() ([]string, error) {
	final, err := tea.NewProgram(tokenmgr.New()).Run()
	if err != nil {
		return nil, err
	}
	var selected []string
	switch m := final.(type) {
	case tokenmgr.Model:
		selected = m.SelectedScopes()
	case *tokenmgr.Model:
		selected = m.SelectedScopes()
	}
	if len(selected) == 0 {
		return nil, errNoScopes
	}
	return selected, nil
}

func checkScopes(scopes []string) error {
	known := make(map[string]bool)
	for _, s := range auth.Scopes() {
		known[s.Name] = true
	}
	var unknown []string
	for _, s := range scopes {
		if !known[s] {
			unknown = append(unknown, s)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown scope(s): %s", strings.Join(unknown, ", "))
	}
	return nil
}

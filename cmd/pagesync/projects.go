package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pagesync/pagesync/internal/config"
	"github.com/pagesync/pagesync/internal/tracker"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List configured projects and available trackers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		for _, key := range cfg.ProjectKeys() {
			p := cfg.Projects[key]
			mode := p.Mode
			if mode == "" {
				mode = config.ModeProject
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s tracker=%-10s mode=%s\n", key, p.Tracker, mode)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\navailable trackers: %v\n", tracker.List())
		return nil
	},
}

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/viflex/platescan/internal/core/store"
	"github.com/viflex/platescan/internal/output"
	"github.com/viflex/platescan/internal/presenter"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse recorded analyses",
	Long:  "List, show and delete analyses recorded in the local history store (history.enabled must be true).",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent analyses, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		if limit < 0 {
			return errors.New("--limit must not be negative")
		}

		cfg, err := loadConfig(cmd.Context(), nil)
		if err != nil {
			return err
		}
		db, err := openHistoryRequired(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck

		records, err := db.ListAnalyses(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(records) == 0 && format == output.FormatTable {
			fmt.Fprintln(cmd.ErrOrStderr(), "No analyses recorded yet.")
			return nil
		}
		rendered, err := output.NewFormatter(format).FormatHistory(records)
		if err != nil {
			return err
		}
		return writeRendered(cmd, format, "history", rendered)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one recorded analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd.Context(), nil)
		if err != nil {
			return err
		}
		db, err := openHistoryRequired(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck

		record, err := db.GetAnalysis(cmd.Context(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no analysis with id %s", args[0])
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "%s  %s  %s\n",
			record.ID, record.CreatedAt.Local().Format("2006-01-02 15:04"), record.Filename)
		rendered, err := output.NewFormatter(format).FormatView(presenter.Present(record.Result))
		if err != nil {
			return err
		}
		return writeRendered(cmd, format, sanitizeFilename("analysis-"+record.ID), rendered)
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a recorded analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context(), nil)
		if err != nil {
			return err
		}
		db, err := openHistoryRequired(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck

		if err := db.DeleteAnalysis(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no analysis with id %s", args[0])
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd)

	historyListCmd.Flags().Int("limit", store.DefaultListLimit, "Maximum number of entries")
	addOutputFlags(historyListCmd)
	addOutputFlags(historyShowCmd)
}

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/learndebug/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "List a user's recent diagnoses, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(func(s *store.Store) error {
			rows, err := s.Diagnoses().ListByUser(cmd.Context(), args[0], limit)
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}
			printDiagnoses(rows)
			return nil
		})
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session <session-id>",
	Short: "Show every turn of a session, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			rows, err := s.Diagnoses().ListBySession(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("list session: %w", err)
			}
			printDiagnoses(rows)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <diagnosis-id>",
	Short: "Delete a stored diagnosis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ID %q: %w", args[0], err)
		}
		return withStore(func(s *store.Store) error {
			if err := s.Diagnoses().Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("Diagnosis %d deleted.\n", id)
			return nil
		})
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", store.DefaultHistoryLimit, "Number of diagnoses to show")
}

func withStore(fn func(*store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func printDiagnoses(rows []*store.Diagnosis) {
	if len(rows) == 0 {
		fmt.Println("No diagnoses found.")
		return
	}

	fmt.Printf("%-5s  %-19s  %-24s  %-5s  %-5s  %s\n",
		"ID", "Timestamp", "Concept", "Conf", "Cov", "Root cause")
	fmt.Println(strings.Repeat("─", 100))
	for _, d := range rows {
		fmt.Printf("%-5d  %-19s  %-24s  %4d%%  %4d%%  %s\n",
			d.ID,
			d.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(d.ConceptName, 24),
			d.Confidence,
			d.KnowledgeCoverage,
			truncate(d.RootCause, 40),
		)
	}
}

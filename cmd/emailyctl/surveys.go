package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var surveysCmd = &cobra.Command{
	Use:   "surveys",
	Short: "Survey inspection commands",
}

var surveysListCmd = &cobra.Command{
	Use:   "list <account_id>",
	Short: "List an account's surveys, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runSurveysList,
}

var surveysShowCmd = &cobra.Command{
	Use:   "show <survey_id>",
	Short: "Show a survey with its recipients",
	Args:  cobra.ExactArgs(1),
	RunE:  runSurveysShow,
}

func init() {
	surveysCmd.AddCommand(surveysListCmd, surveysShowCmd)
	rootCmd.AddCommand(surveysCmd)
}

func runSurveysList(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, s *store) error {
		surveys, err := s.surveys.ListByAccount(ctx, args[0])
		if err != nil {
			return fmt.Errorf("list surveys: %w", err)
		}
		if len(surveys) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No surveys")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tYES\tNO\tSENT")
		for _, survey := range surveys {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", survey.ID, survey.Title, survey.Yes, survey.No, survey.DateSent.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

func runSurveysShow(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, s *store) error {
		survey, err := s.surveys.FindByID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("find survey: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ID:       %s\n", survey.ID)
		fmt.Fprintf(out, "Account:  %s\n", survey.AccountID)
		fmt.Fprintf(out, "Title:    %s\n", survey.Title)
		fmt.Fprintf(out, "Subject:  %s\n", survey.Subject)
		fmt.Fprintf(out, "Sent:     %s\n", survey.DateSent.Format(time.RFC3339))
		fmt.Fprintf(out, "Tally:    yes=%d no=%d (%d/%d responded)\n", survey.Yes, survey.No, survey.Tally(), len(survey.Recipients))
		if survey.LastResponded != nil {
			fmt.Fprintf(out, "Last:     %s\n", survey.LastResponded.Format(time.RFC3339))
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\nRECIPIENT\tRESPONDED")
		for _, r := range survey.Recipients {
			fmt.Fprintf(w, "%s\t%t\n", r.Email, r.Responded)
		}
		return w.Flush()
	})
}

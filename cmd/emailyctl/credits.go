package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sngm3741/emaily/api/internal/survey/application"
	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Account credit commands",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <account_id> <credits>",
	Short: "Add credits to an account",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreditsGrant,
}

var creditsShowCmd = &cobra.Command{
	Use:   "show <account_id>",
	Short: "Show an account balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsShow,
}

func init() {
	creditsCmd.AddCommand(creditsGrantCmd, creditsShowCmd)
	rootCmd.AddCommand(creditsCmd)
}

func runCreditsGrant(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("credits must be an integer: %w", err)
	}

	return withStore(func(ctx context.Context, s *store) error {
		accounts := application.NewAccountService(application.AccountServiceConfig{
			Accounts: s.accounts,
			Payments: s.payments,
			Logger:   newLogger(cmd.ErrOrStderr()),
		})

		account, err := accounts.Grant(ctx, args[0], n)
		if err != nil {
			return fmt.Errorf("grant credits: %w", err)
		}
		printAccount(cmd, account)
		return nil
	})
}

func runCreditsShow(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, s *store) error {
		account, err := s.accounts.FindByID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("find account: %w", err)
		}
		printAccount(cmd, account)
		return nil
	})
}

func printAccount(cmd *cobra.Command, account *domain.Account) {
	fmt.Fprintf(cmd.OutOrStdout(), "account %s (provider %s): %d credits\n", account.ID, account.ProviderID, account.Credits)
}

package main

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/spf13/cobra"

	mongodoc "github.com/sngm3741/emaily/api/internal/infrastructure/mongo"
	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

var (
	seedProvider   string
	seedCredits    int
	seedSurveys    int
	seedRecipients int
	seedDrop       bool
	seedRandom     int64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert development data",
	Long:  `seed creates (or reuses) an account for --provider and inserts sample surveys with a share of recipients already answered.`,
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedProvider, "provider", "dev-user", "auth provider subject of the seeded account")
	seedCmd.Flags().IntVar(&seedCredits, "credits", domain.DefaultCredits, "initial credits for a new account")
	seedCmd.Flags().IntVar(&seedSurveys, "surveys", 3, "number of surveys to insert")
	seedCmd.Flags().IntVar(&seedRecipients, "recipients", 10, "recipients per survey")
	seedCmd.Flags().BoolVar(&seedDrop, "drop", false, "drop existing collections first")
	seedCmd.Flags().Int64Var(&seedRandom, "seed", time.Now().UnixNano(), "random seed")

	rootCmd.AddCommand(seedCmd)
}

var seedTitles = []string{
	"New feature feedback",
	"Onboarding experience",
	"Would you recommend us?",
	"Support satisfaction",
	"Pricing check-in",
}

func runSeed(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd.ErrOrStderr())

	return withStore(func(ctx context.Context, s *store) error {
		if seedDrop {
			dropCollections(ctx, s, logger.Printf)
		}
		if err := mongodoc.EnsureIndexes(ctx, s.db, s.collections); err != nil {
			return fmt.Errorf("ensure indexes: %w", err)
		}

		account, err := s.accounts.FindOrCreateByProvider(ctx, seedProvider, seedCredits)
		if err != nil {
			return fmt.Errorf("seed account: %w", err)
		}

		rng := rand.New(rand.NewSource(seedRandom))
		applied := 0
		for i := 0; i < seedSurveys; i++ {
			survey, err := seedSurvey(ctx, s, rng, account.ID, i)
			if err != nil {
				return err
			}
			n, err := seedResponses(ctx, s, rng, survey)
			if err != nil {
				return err
			}
			applied += n
		}

		logger.Printf("Seed 完了: account=%s credits=%d surveys=%d responses=%d", account.ID, account.Credits, seedSurveys, applied)
		fmt.Fprintln(cmd.OutOrStdout(), account.ID)
		return nil
	})
}

func seedSurvey(ctx context.Context, s *store, rng *rand.Rand, accountID string, index int) (*domain.Survey, error) {
	emails := make([]string, 0, seedRecipients)
	for j := 0; j < seedRecipients; j++ {
		emails = append(emails, fmt.Sprintf("user%02d.%d@example.com", j, index))
	}
	recipients, err := domain.ParseRecipients(strings.Join(emails, ","))
	if err != nil {
		return nil, err
	}

	title := seedTitles[rng.Intn(len(seedTitles))]
	sentAt := time.Now().UTC().Add(-time.Duration(rng.Intn(72)) * time.Hour)
	survey := domain.NewSurvey(s.surveys.NewID(), accountID, title, title, "Did you enjoy it?", recipients, sentAt)
	if err := s.surveys.Insert(ctx, survey); err != nil {
		return nil, fmt.Errorf("insert survey: %w", err)
	}
	return survey, nil
}

// seedResponses は実際の条件付き更新を通して一部の受信者を回答済みにする。
func seedResponses(ctx context.Context, s *store, rng *rand.Rand, survey *domain.Survey) (int, error) {
	applied := 0
	for _, r := range survey.Recipients {
		if rng.Intn(2) == 0 {
			continue
		}
		choice := domain.Choices[rng.Intn(len(domain.Choices))]
		ok, err := s.surveys.ApplyResponse(ctx, survey.ID, r.Email, choice)
		if err != nil {
			return applied, fmt.Errorf("apply response: %w", err)
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

func dropCollections(ctx context.Context, s *store, warnf func(string, ...any)) {
	for _, name := range []string{
		s.collections.Accounts, s.collections.Surveys, s.collections.Reconciliations, s.collections.Payments,
	} {
		if err := s.db.Collection(name).Drop(ctx); err != nil {
			// 存在しない場合も err を返すことがあるので warning にとどめる
			warnf("WARN: コレクション %s の削除に失敗: %v", name, err)
		}
	}
}

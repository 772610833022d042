package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sngm3741/emaily/api/internal/config"
	mongodoc "github.com/sngm3741/emaily/api/internal/infrastructure/mongo"
)

var (
	envFile  string
	mongoURI string
	mongoDB  string
	timeout  time.Duration
	storage  config.Mongo
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "emailyctl",
	Short: "Emaily operator tool",
	Long:  `emailyctl manages credits, inspects surveys and pending reconciliations, and seeds development data.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return loadStorage(os.Getenv)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional env file")
	rootCmd.PersistentFlags().StringVar(&mongoURI, "mongo-uri", "", "MongoDB URI (default $MONGO_URI)")
	rootCmd.PersistentFlags().StringVar(&mongoDB, "db", "", "database name (default $MONGO_DB)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "command timeout")
}

// loadStorage は API サーバーと同じ環境変数から接続先を読み、フラグで上書きする。
func loadStorage(getenv func(string) string) error {
	m, err := config.MongoFromEnv(getenv)
	if err != nil {
		return err
	}
	if mongoURI != "" {
		m.URI = mongoURI
	}
	if mongoDB != "" {
		m.Database = mongoDB
	}
	storage = m
	return nil
}

// store は 1 コマンド分の Mongo 接続とリポジトリ群。
type store struct {
	client          *mongo.Client
	db              *mongo.Database
	collections     mongodoc.Collections
	accounts        *mongodoc.AccountRepository
	surveys         *mongodoc.SurveyRepository
	reconciliations *mongodoc.ReconciliationRepository
	payments        *mongodoc.PaymentRepository
}

func openStore(ctx context.Context) (*store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(storage.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(storage.Database)
	cols := mongodoc.Collections{
		Accounts:        storage.AccountCollection,
		Surveys:         storage.SurveyCollection,
		Reconciliations: storage.ReconciliationCollection,
		Payments:        storage.PaymentCollection,
	}
	return &store{
		client:          client,
		db:              db,
		collections:     cols,
		accounts:        mongodoc.NewAccountRepository(db, cols.Accounts),
		surveys:         mongodoc.NewSurveyRepository(db, cols.Surveys),
		reconciliations: mongodoc.NewReconciliationRepository(db, cols.Reconciliations),
		payments:        mongodoc.NewPaymentRepository(db, cols.Payments),
	}, nil
}

func (s *store) Close() {
	_ = s.client.Disconnect(context.Background())
}

// withStore runs fn with a connected store under the --timeout deadline.
func withStore(fn func(ctx context.Context, s *store) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s)
}

func newLogger(w io.Writer) *log.Logger {
	return log.New(w, "[emailyctl] ", log.LstdFlags)
}

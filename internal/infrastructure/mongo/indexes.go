package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collections は各コレクション名の組。
type Collections struct {
	Accounts        string
	Surveys         string
	Reconciliations string
	Payments        string
}

// EnsureIndexes は起動時に必要なインデックスを作成する。既存なら何もしない。
func EnsureIndexes(ctx context.Context, db *mongo.Database, cfg Collections) error {
	if _, err := db.Collection(cfg.Accounts).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "providerId", Value: 1}},
		Options: options.Index().SetName("uniq_account_provider").SetUnique(true),
	}); err != nil {
		return err
	}

	if _, err := db.Collection(cfg.Surveys).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "accountId", Value: 1}, {Key: "dateSent", Value: -1}},
		Options: options.Index().SetName("idx_survey_account_sent"),
	}); err != nil {
		return err
	}

	if _, err := db.Collection(cfg.Reconciliations).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}},
		Options: options.Index().SetName("idx_reconciliation_status_created"),
	}); err != nil {
		return err
	}

	return nil
}

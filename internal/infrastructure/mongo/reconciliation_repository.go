package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

// ReconciliationRepository は送信後に減算できなかったクレジットを保存する。
// 運用者は emailyctl reconcile list で未処理分を確認する。
type ReconciliationRepository struct {
	collection *mongo.Collection
}

func NewReconciliationRepository(db *mongo.Database, collection string) *ReconciliationRepository {
	return &ReconciliationRepository{collection: db.Collection(collection)}
}

// RecordPendingDebit は未減算レコードを追加する。
func (r *ReconciliationRepository) RecordPendingDebit(ctx context.Context, debit domain.PendingDebit) error {
	accountID, err := primitive.ObjectIDFromHex(debit.AccountID)
	if err != nil {
		return err
	}
	surveyID, err := primitive.ObjectIDFromHex(debit.SurveyID)
	if err != nil {
		return err
	}

	status := debit.Status
	if status == "" {
		status = domain.PendingDebitStatusPending
	}
	createdAt := debit.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	doc := PendingDebitDocument{
		ID:        primitive.NewObjectID(),
		AccountID: accountID,
		SurveyID:  surveyID,
		Credits:   debit.Credits,
		Error:     debit.Error,
		Status:    status,
		CreatedAt: createdAt,
	}
	_, err = r.collection.InsertOne(ctx, doc)
	return err
}

// ListPending は未処理のレコードを古い順に返す。
func (r *ReconciliationRepository) ListPending(ctx context.Context, limit int) ([]domain.PendingDebit, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"status": domain.PendingDebitStatusPending}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []PendingDebitDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	debits := make([]domain.PendingDebit, 0, len(docs))
	for _, doc := range docs {
		debits = append(debits, domain.PendingDebit{
			ID:        doc.ID.Hex(),
			AccountID: doc.AccountID.Hex(),
			SurveyID:  doc.SurveyID.Hex(),
			Credits:   doc.Credits,
			Error:     doc.Error,
			Status:    doc.Status,
			CreatedAt: doc.CreatedAt,
		})
	}
	return debits, nil
}

package mongo

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

// PaymentRepository は処理済み決済を記録する。決済 ID を _id に使うため
// 同じ通知が再送されても重複キーで弾かれる。
type PaymentRepository struct {
	collection *mongo.Collection
}

func NewPaymentRepository(db *mongo.Database, collection string) *PaymentRepository {
	return &PaymentRepository{collection: db.Collection(collection)}
}

// Record は決済を登録し、既に登録済みなら false を返す。
func (r *PaymentRepository) Record(ctx context.Context, payment domain.Payment) (bool, error) {
	accountID, err := primitive.ObjectIDFromHex(strings.TrimSpace(payment.AccountID))
	if err != nil {
		return false, domain.ErrNotFound
	}

	createdAt := payment.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	doc := PaymentDocument{
		ID:        payment.ID,
		AccountID: accountID,
		Credits:   payment.Credits,
		CreatedAt: createdAt,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Forget は加算に失敗した決済の記録を取り消し、再送で再処理できるようにする。
func (r *PaymentRepository) Forget(ctx context.Context, paymentID string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": paymentID})
	return err
}

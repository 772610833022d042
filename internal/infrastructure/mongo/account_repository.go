package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

// AccountRepository はアカウントとクレジット残高を扱う。
// 残高の増減はすべて単一ドキュメントへのアトミックな $inc で行う。
type AccountRepository struct {
	accounts *mongo.Collection
	now      func() time.Time
}

func NewAccountRepository(db *mongo.Database, collection string) *AccountRepository {
	return &AccountRepository{
		accounts: db.Collection(collection),
		now:      time.Now,
	}
}

// FindByID はアカウントを取得する。
func (r *AccountRepository) FindByID(ctx context.Context, accountID string) (*domain.Account, error) {
	objectID, err := primitive.ObjectIDFromHex(strings.TrimSpace(accountID))
	if err != nil {
		return nil, domain.ErrNotFound
	}

	var doc AccountDocument
	if err := r.accounts.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return mapAccountDocument(doc), nil
}

// FindOrCreateByProvider は認証プロバイダ ID でアカウントを引き、
// 無ければ初期クレジット付きで作成する。providerId のユニーク制約で
// 同時初回ログインが衝突した場合は既存ドキュメントを読み直す。
func (r *AccountRepository) FindOrCreateByProvider(ctx context.Context, providerID string, initialCredits int) (*domain.Account, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, domain.ErrNotFound
	}

	filter := bson.M{"providerId": providerID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"credits":   initialCredits,
			"createdAt": r.now().UTC(),
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc AccountDocument
	err := r.accounts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		err = r.accounts.FindOne(ctx, filter).Decode(&doc)
	}
	if err != nil {
		return nil, err
	}
	return mapAccountDocument(doc), nil
}

// Debit は残高が n 以上のときだけ n を減算する。
// 条件に合わない場合、アカウントが存在すれば ErrInsufficientCredits を返す。
func (r *AccountRepository) Debit(ctx context.Context, accountID string, n int) (*domain.Account, error) {
	if n <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	objectID, err := primitive.ObjectIDFromHex(strings.TrimSpace(accountID))
	if err != nil {
		return nil, domain.ErrNotFound
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc AccountDocument
	err = r.accounts.FindOneAndUpdate(ctx, debitFilter(objectID, n), creditUpdate(-n), opts).Decode(&doc)
	if err == nil {
		return mapAccountDocument(doc), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	count, err := r.accounts.CountDocuments(ctx, bson.M{"_id": objectID})
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, domain.ErrNotFound
	}
	return nil, domain.ErrInsufficientCredits
}

// Credit は残高に n を加算する。
func (r *AccountRepository) Credit(ctx context.Context, accountID string, n int) (*domain.Account, error) {
	if n <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	objectID, err := primitive.ObjectIDFromHex(strings.TrimSpace(accountID))
	if err != nil {
		return nil, domain.ErrNotFound
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc AccountDocument
	if err := r.accounts.FindOneAndUpdate(ctx, bson.M{"_id": objectID}, creditUpdate(n), opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return mapAccountDocument(doc), nil
}

func debitFilter(accountID primitive.ObjectID, n int) bson.M {
	return bson.M{
		"_id":     accountID,
		"credits": bson.M{"$gte": n},
	}
}

func creditUpdate(delta int) bson.M {
	return bson.M{"$inc": bson.M{"credits": delta}}
}

func mapAccountDocument(doc AccountDocument) *domain.Account {
	return &domain.Account{
		ID:         doc.ID.Hex(),
		ProviderID: doc.ProviderID,
		Credits:    doc.Credits,
		CreatedAt:  doc.CreatedAt,
	}
}

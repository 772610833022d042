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

// SurveyRepository はアンケート集約を MongoDB で扱う実装リポジトリ。
// 集計の唯一の同期点はドキュメント単位の条件付き更新であり、ロックは持たない。
type SurveyRepository struct {
	surveys *mongo.Collection
	now     func() time.Time
}

// NewSurveyRepository は surveys コレクションを束縛したリポジトリを構築する。
func NewSurveyRepository(db *mongo.Database, collection string) *SurveyRepository {
	return &SurveyRepository{
		surveys: db.Collection(collection),
		now:     time.Now,
	}
}

// NewID は送信前に追跡リンクへ埋め込むための ObjectID を採番する。
func (r *SurveyRepository) NewID() string {
	return primitive.NewObjectID().Hex()
}

// Insert は受信者リストを含むアンケートを 1 ドキュメントとして追加する。
func (r *SurveyRepository) Insert(ctx context.Context, survey *domain.Survey) error {
	id := primitive.NewObjectID()
	if survey.ID != "" {
		parsed, err := primitive.ObjectIDFromHex(strings.TrimSpace(survey.ID))
		if err != nil {
			return err
		}
		id = parsed
	}
	accountID, err := primitive.ObjectIDFromHex(strings.TrimSpace(survey.AccountID))
	if err != nil {
		return err
	}

	doc := SurveyDocument{
		ID:            id,
		AccountID:     accountID,
		Title:         survey.Title,
		Subject:       survey.Subject,
		Body:          survey.Body,
		Recipients:    mapRecipientDocuments(survey.Recipients),
		Yes:           survey.Yes,
		No:            survey.No,
		DateSent:      survey.DateSent,
		LastResponded: survey.LastResponded,
	}
	if _, err := r.surveys.InsertOne(ctx, doc); err != nil {
		return err
	}

	survey.ID = doc.ID.Hex()
	return nil
}

// FindByID はアンケートを受信者込みで取得する。ID が不正な場合も ErrNotFound。
func (r *SurveyRepository) FindByID(ctx context.Context, id string) (*domain.Survey, error) {
	objectID, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrNotFound
	}

	var doc SurveyDocument
	if err := r.surveys.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	survey := mapSurveyDocument(doc)
	return &survey, nil
}

// ListByAccount は一覧表示用に recipients を除外して新しい順に返す。
func (r *SurveyRepository) ListByAccount(ctx context.Context, accountID string) ([]domain.Survey, error) {
	objectID, err := primitive.ObjectIDFromHex(strings.TrimSpace(accountID))
	if err != nil {
		return []domain.Survey{}, nil
	}

	cursor, err := r.surveys.Find(ctx, bson.M{"accountId": objectID}, listOptions())
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	surveys := make([]domain.Survey, 0)
	for cursor.Next(ctx) {
		var doc SurveyDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		surveys = append(surveys, mapSurveyDocument(doc))
	}
	return surveys, cursor.Err()
}

// ApplyResponse は未回答の受信者が存在する場合に限り、選択肢のカウンタ加算・
// responded フラグ・lastResponded を 1 回の UpdateOne で反映する。
// 条件に合致しない場合（アンケートなし・受信者なし・回答済み）は false を返す。
func (r *SurveyRepository) ApplyResponse(ctx context.Context, surveyID, email string, choice domain.Choice) (bool, error) {
	if _, ok := domain.ParseChoice(choice.String()); !ok {
		return false, nil
	}
	objectID, err := primitive.ObjectIDFromHex(strings.TrimSpace(surveyID))
	if err != nil {
		return false, nil
	}

	result, err := r.surveys.UpdateOne(ctx, responseFilter(objectID, email), responseUpdate(choice, r.now().UTC()))
	if err != nil {
		return false, err
	}
	return result.ModifiedCount > 0, nil
}

// responseFilter は「対象アンケートに未回答の該当受信者がいる」という前提条件。
func responseFilter(surveyID primitive.ObjectID, email string) bson.M {
	return bson.M{
		"_id": surveyID,
		"recipients": bson.M{
			"$elemMatch": bson.M{"email": email, "responded": false},
		},
	}
}

// responseUpdate は $elemMatch で一致した受信者だけを位置演算子 $ で更新する。
func responseUpdate(choice domain.Choice, now time.Time) bson.M {
	return bson.M{
		"$inc": bson.M{choice.String(): 1},
		"$set": bson.M{
			"recipients.$.responded": true,
			"lastResponded":          now,
		},
	}
}

func listOptions() *options.FindOptions {
	return options.Find().
		SetProjection(bson.M{"recipients": 0}).
		SetSort(bson.D{{Key: "dateSent", Value: -1}})
}

// mapSurveyDocument は Mongo ドキュメントをドメイン Survey に復元する。
func mapSurveyDocument(doc SurveyDocument) domain.Survey {
	var recipients []domain.Recipient
	if len(doc.Recipients) > 0 {
		recipients = make([]domain.Recipient, 0, len(doc.Recipients))
		for _, r := range doc.Recipients {
			recipients = append(recipients, domain.Recipient{Email: r.Email, Responded: r.Responded})
		}
	}
	return domain.Survey{
		ID:            doc.ID.Hex(),
		AccountID:     doc.AccountID.Hex(),
		Title:         doc.Title,
		Subject:       doc.Subject,
		Body:          doc.Body,
		Recipients:    recipients,
		Yes:           doc.Yes,
		No:            doc.No,
		DateSent:      doc.DateSent,
		LastResponded: doc.LastResponded,
	}
}

func mapRecipientDocuments(recipients []domain.Recipient) []RecipientDocument {
	docs := make([]RecipientDocument, 0, len(recipients))
	for _, r := range recipients {
		docs = append(docs, RecipientDocument{Email: r.Email, Responded: r.Responded})
	}
	return docs
}

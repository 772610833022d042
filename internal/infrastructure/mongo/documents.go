package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AccountDocument は accounts コレクション上のアカウントとクレジット残高を表す。
type AccountDocument struct {
	ID         primitive.ObjectID `bson:"_id"`
	ProviderID string             `bson:"providerId"`
	Credits    int                `bson:"credits"`
	CreatedAt  time.Time          `bson:"createdAt"`
}

// SurveyDocument は受信者リストを埋め込んだアンケートのスキーマ。
// 集計値 yes/no と recipients.$.responded は条件付き更新でのみ変化する。
type SurveyDocument struct {
	ID            primitive.ObjectID  `bson:"_id"`
	AccountID     primitive.ObjectID  `bson:"accountId"`
	Title         string              `bson:"title"`
	Subject       string              `bson:"subject"`
	Body          string              `bson:"body"`
	Recipients    []RecipientDocument `bson:"recipients"`
	Yes           int                 `bson:"yes"`
	No            int                 `bson:"no"`
	DateSent      time.Time           `bson:"dateSent"`
	LastResponded *time.Time          `bson:"lastResponded,omitempty"`
}

// RecipientDocument は回答状態を持つ受信者 1 件分の埋め込みドキュメント。
type RecipientDocument struct {
	Email     string `bson:"email"`
	Responded bool   `bson:"responded"`
}

// PendingDebitDocument は送信後に減算できなかったクレジットの記録。
type PendingDebitDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	AccountID primitive.ObjectID `bson:"accountId"`
	SurveyID  primitive.ObjectID `bson:"surveyId"`
	Credits   int                `bson:"credits"`
	Error     string             `bson:"error"`
	Status    string             `bson:"status"`
	CreatedAt time.Time          `bson:"createdAt"`
}

// PaymentDocument は決済 ID を _id とし、同一決済の二重加算を防ぐ。
type PaymentDocument struct {
	ID        string             `bson:"_id"`
	AccountID primitive.ObjectID `bson:"accountId"`
	Credits   int                `bson:"credits"`
	CreatedAt time.Time          `bson:"createdAt"`
}

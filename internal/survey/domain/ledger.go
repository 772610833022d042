package domain

import "time"

// PendingDebit records a debit that could not be applied after a survey was sent.
type PendingDebit struct {
	ID        string
	AccountID string
	SurveyID  string
	Credits   int
	Error     string
	Status    string
	CreatedAt time.Time
}

const PendingDebitStatusPending = "pending"

// Payment is a settled purchase of credits reported by the billing provider.
type Payment struct {
	ID        string
	AccountID string
	Credits   int
	CreatedAt time.Time
}

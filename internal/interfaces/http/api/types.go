package api

import (
	"time"

	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

type createSurveyRequest struct {
	Title      string `json:"title" validate:"required,max=200"`
	Subject    string `json:"subject" validate:"required,max=200"`
	Body       string `json:"body" validate:"required,max=10000"`
	Recipients string `json:"recipients" validate:"required"`
}

type billingNotification struct {
	PaymentID string `json:"paymentId" validate:"required,max=200"`
	AccountID string `json:"accountId" validate:"required"`
	Credits   int    `json:"credits" validate:"gt=0"`
}

type surveySummaryResponse struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Subject       string     `json:"subject"`
	Body          string     `json:"body"`
	Yes           int        `json:"yes"`
	No            int        `json:"no"`
	DateSent      time.Time  `json:"dateSent"`
	LastResponded *time.Time `json:"lastResponded,omitempty"`
}

type recipientResponse struct {
	Email     string `json:"email"`
	Responded bool   `json:"responded"`
}

type surveyDetailResponse struct {
	surveySummaryResponse
	Recipients []recipientResponse `json:"recipients"`
}

func buildSurveySummary(survey domain.Survey) surveySummaryResponse {
	return surveySummaryResponse{
		ID:            survey.ID,
		Title:         survey.Title,
		Subject:       survey.Subject,
		Body:          survey.Body,
		Yes:           survey.Yes,
		No:            survey.No,
		DateSent:      survey.DateSent,
		LastResponded: survey.LastResponded,
	}
}

func buildSurveyDetail(survey domain.Survey) surveyDetailResponse {
	recipients := make([]recipientResponse, 0, len(survey.Recipients))
	for _, r := range survey.Recipients {
		recipients = append(recipients, recipientResponse{Email: r.Email, Responded: r.Responded})
	}
	return surveyDetailResponse{
		surveySummaryResponse: buildSurveySummary(survey),
		Recipients:            recipients,
	}
}

package application

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

const baseURL = "https://emaily.example"

func seedSurvey(t *testing.T, surveys *memorySurveys, id string, emails ...string) {
	t.Helper()
	recipients := make([]domain.Recipient, 0, len(emails))
	for _, email := range emails {
		recipients = append(recipients, domain.Recipient{Email: email})
	}
	require.NoError(t, surveys.Insert(context.Background(), &domain.Survey{
		ID:         id,
		AccountID:  "A1",
		Recipients: recipients,
		DateSent:   fixedNow,
	}))
}

func click(email, surveyID string, choice domain.Choice) domain.InboundEvent {
	return domain.InboundEvent{Email: email, URL: baseURL + domain.ResponsePath(surveyID, choice)}
}

func loadSurvey(t *testing.T, surveys *memorySurveys, id string) *domain.Survey {
	t.Helper()
	survey, err := surveys.FindByID(context.Background(), id)
	require.NoError(t, err)
	return survey
}

func TestIngestAppliesResponse(t *testing.T) {
	surveys := newMemorySurveys()
	seedSurvey(t, surveys, "S1", "a@x.com", "b@y.com")
	ingester := NewResponseIngester(WebhookProcessorConfig{Surveys: surveys})

	report := ingester.Ingest(context.Background(), []domain.InboundEvent{click("a@x.com", "S1", domain.ChoiceYes)})

	assert.Equal(t, IngestReport{Received: 1, Matched: 1, Unique: 1, Applied: 1}, report)
	survey := loadSurvey(t, surveys, "S1")
	assert.Equal(t, 1, survey.Yes)
	assert.Equal(t, 0, survey.No)
	assert.True(t, survey.Recipients[0].Responded)
	assert.False(t, survey.Recipients[1].Responded)
	require.NotNil(t, survey.LastResponded)
}

func TestIngestRedeliveryIsNoop(t *testing.T) {
	surveys := newMemorySurveys()
	seedSurvey(t, surveys, "S1", "a@x.com")
	ingester := NewResponseIngester(WebhookProcessorConfig{Surveys: surveys})
	batch := []domain.InboundEvent{click("a@x.com", "S1", domain.ChoiceYes)}

	ingester.Ingest(context.Background(), batch)
	before := loadSurvey(t, surveys, "S1")

	report := ingester.Ingest(context.Background(), batch)

	assert.Equal(t, 0, report.Applied)
	assert.Equal(t, 1, report.Skipped)
	after := loadSurvey(t, surveys, "S1")
	assert.Equal(t, before.Yes, after.Yes)
	assert.Equal(t, before.No, after.No)
	assert.Equal(t, before.Recipients, after.Recipients)
	assert.Equal(t, 1, after.Yes)
}

func TestIngestDropsNonMatchingEventsWithoutStoreCalls(t *testing.T) {
	surveys := newMemorySurveys()
	seedSurvey(t, surveys, "S1", "a@x.com")
	ingester := NewResponseIngester(WebhookProcessorConfig{Surveys: surveys})

	report := ingester.Ingest(context.Background(), []domain.InboundEvent{
		{Email: "a@x.com", URL: baseURL + "/images/logo.png"},
		{Email: "a@x.com", URL: baseURL + "/api/surveys/S1/maybe"},
		{Email: "a@x.com"},
	})

	assert.Equal(t, IngestReport{Received: 3}, report)
	assert.Zero(t, surveys.applyCalls.Load())
}

func TestIngestCollapsesDuplicatesInBatch(t *testing.T) {
	surveys := newMemorySurveys()
	seedSurvey(t, surveys, "S1", "a@x.com", "b@y.com")
	ingester := NewResponseIngester(WebhookProcessorConfig{Surveys: surveys})

	events := make([]domain.InboundEvent, 0)
	for i := 0; i < 25; i++ {
		events = append(events, click("a@x.com", "S1", domain.ChoiceYes))
	}
	events = append(events, click("b@y.com", "S1", domain.ChoiceNo))

	report := ingester.Ingest(context.Background(), events)

	assert.Equal(t, 26, report.Matched)
	assert.Equal(t, 2, report.Unique)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, int64(2), surveys.applyCalls.Load())
	survey := loadSurvey(t, surveys, "S1")
	assert.Equal(t, 1, survey.Yes)
	assert.Equal(t, 1, survey.No)
}

func TestIngestFirstChoiceWinsForPair(t *testing.T) {
	surveys := newMemorySurveys()
	seedSurvey(t, surveys, "S1", "a@x.com")
	ingester := NewResponseIngester(WebhookProcessorConfig{Surveys: surveys})

	ingester.Ingest(context.Background(), []domain.InboundEvent{
		click("a@x.com", "S1", domain.ChoiceNo),
		click("a@x.com", "S1", domain.ChoiceYes),
	})

	survey := loadSurvey(t, surveys, "S1")
	assert.Equal(t, 0, survey.Yes)
	assert.Equal(t, 1, survey.No)
}

func TestIngestSameEmailAcrossSurveysIsIndependent(t *testing.T) {
	surveys := newMemorySurveys()
	seedSurvey(t, surveys, "S1", "a@x.com")
	seedSurvey(t, surveys, "S2", "a@x.com")
	ingester := NewResponseIngester(WebhookProcessorConfig{Surveys: surveys})

	report := ingester.Ingest(context.Background(), []domain.InboundEvent{
		click("a@x.com", "S1", domain.ChoiceYes),
		click("a@x.com", "S2", domain.ChoiceNo),
	})

	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 1, loadSurvey(t, surveys, "S1").Yes)
	assert.Equal(t, 1, loadSurvey(t, surveys, "S2").No)
}

func TestIngestUnknownSurveyOrRecipientIsSkipped(t *testing.T) {
	surveys := newMemorySurveys()
	seedSurvey(t, surveys, "S1", "a@x.com")
	ingester := NewResponseIngester(WebhookProcessorConfig{Surveys: surveys})

	report := ingester.Ingest(context.Background(), []domain.InboundEvent{
		click("a@x.com", "missing", domain.ChoiceYes),
		click("stranger@z.com", "S1", domain.ChoiceYes),
	})

	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, loadSurvey(t, surveys, "S1").Tally())
}

func TestIngestStoreFailureDoesNotAbortBatch(t *testing.T) {
	surveys := newMemorySurveys()
	seedSurvey(t, surveys, "S1", "a@x.com", "b@y.com", "c@z.com")
	surveys.applyErr["b@y.com"] = errStoreUnavailable
	ingester := NewResponseIngester(WebhookProcessorConfig{Surveys: surveys, Concurrency: 1})

	report := ingester.Ingest(context.Background(), []domain.InboundEvent{
		click("a@x.com", "S1", domain.ChoiceYes),
		click("b@y.com", "S1", domain.ChoiceYes),
		click("c@z.com", "S1", domain.ChoiceNo),
	})

	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 1, report.Failed)
	survey := loadSurvey(t, surveys, "S1")
	assert.Equal(t, 1, survey.Yes)
	assert.Equal(t, 1, survey.No)
}

func TestIngestSurvivesCancelledRequestContext(t *testing.T) {
	surveys := newMemorySurveys()
	seedSurvey(t, surveys, "S1", "a@x.com")
	ingester := NewResponseIngester(WebhookProcessorConfig{Surveys: surveys})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := ingester.Ingest(ctx, []domain.InboundEvent{click("a@x.com", "S1", domain.ChoiceYes)})

	assert.Equal(t, 1, report.Applied)
}

func TestIngestConcurrentBatchesApplyOncePerPair(t *testing.T) {
	surveys := newMemorySurveys()
	seedSurvey(t, surveys, "S1", "a@x.com")
	ingester := NewResponseIngester(WebhookProcessorConfig{Surveys: surveys})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ingester.Ingest(context.Background(), []domain.InboundEvent{click("a@x.com", "S1", domain.ChoiceYes)})
		}()
	}
	wg.Wait()

	survey := loadSurvey(t, surveys, "S1")
	assert.Equal(t, 1, survey.Yes)
	assert.Equal(t, 1, survey.Tally())
}

func TestIngestConcurrentVotersOnOneSurvey(t *testing.T) {
	surveys := newMemorySurveys()
	emails := make([]string, 0, 50)
	events := make([]domain.InboundEvent, 0, 50)
	for i := 0; i < 50; i++ {
		email := fmt.Sprintf("voter%d@example.com", i)
		emails = append(emails, email)
		choice := domain.ChoiceYes
		if i%2 == 1 {
			choice = domain.ChoiceNo
		}
		events = append(events, click(email, "S1", choice))
	}
	seedSurvey(t, surveys, "S1", emails...)
	ingester := NewResponseIngester(WebhookProcessorConfig{Surveys: surveys, Concurrency: 16})

	report := ingester.Ingest(context.Background(), events)

	assert.Equal(t, 50, report.Applied)
	survey := loadSurvey(t, surveys, "S1")
	assert.Equal(t, 25, survey.Yes)
	assert.Equal(t, 25, survey.No)
	for _, r := range survey.Recipients {
		assert.True(t, r.Responded, r.Email)
	}
}

type capturingObserver struct {
	noopObserver
	reports []IngestReport
}

func (o *capturingObserver) ResponsesIngested(report IngestReport) {
	o.reports = append(o.reports, report)
}

func TestIngestNotifiesObserver(t *testing.T) {
	surveys := newMemorySurveys()
	seedSurvey(t, surveys, "S1", "a@x.com")
	observer := &capturingObserver{}
	ingester := NewResponseIngester(WebhookProcessorConfig{Surveys: surveys, Observer: observer})

	ingester.Ingest(context.Background(), []domain.InboundEvent{click("a@x.com", "S1", domain.ChoiceYes)})

	require.Len(t, observer.reports, 1)
	assert.Equal(t, 1, observer.reports[0].Applied)
}

func TestIngestRepeatedRecipientCountsOnce(t *testing.T) {
	f := newSurveyFixture(5)
	result, err := f.service.Create(context.Background(), createCommand("a@x.com, b@y.com, a@x.com"))
	require.NoError(t, err)

	require.Len(t, f.dispatcher.sent, 1)
	assert.Equal(t, []string{"a@x.com", "b@y.com"}, f.dispatcher.sent[0].Recipients)

	ingester := NewResponseIngester(WebhookProcessorConfig{Surveys: f.surveys})
	batch := []domain.InboundEvent{click("a@x.com", result.Survey.ID, domain.ChoiceYes)}

	first := ingester.Ingest(context.Background(), batch)
	second := ingester.Ingest(context.Background(), batch)

	assert.Equal(t, 1, first.Applied)
	assert.Equal(t, 0, second.Applied)
	assert.Equal(t, 1, second.Skipped)

	survey := loadSurvey(t, f.surveys, result.Survey.ID)
	assert.Len(t, survey.Recipients, 2)
	assert.Equal(t, 1, survey.Yes)
	assert.Equal(t, 0, survey.No)
}

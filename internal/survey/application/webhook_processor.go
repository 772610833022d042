package application

import (
	"context"
	"io"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

const (
	defaultWebhookConcurrency = 8
	defaultStoreTimeout       = 5 * time.Second
)

// WebhookProcessorConfig defines dependencies of the webhook ingestion.
type WebhookProcessorConfig struct {
	Surveys      SurveyRepository
	Concurrency  int
	StoreTimeout time.Duration
	Logger       *log.Logger
	Observer     Observer
}

// ResponseIngester resolves provider events to survey answers and applies
// each (recipient, survey) pair at most once through the store's
// conditional update.
type ResponseIngester struct {
	surveys      SurveyRepository
	concurrency  int
	storeTimeout time.Duration
	logger       *log.Logger
	observer     Observer
}

func NewResponseIngester(cfg WebhookProcessorConfig) *ResponseIngester {
	p := &ResponseIngester{
		surveys:      cfg.Surveys,
		concurrency:  cfg.Concurrency,
		storeTimeout: cfg.StoreTimeout,
		logger:       cfg.Logger,
		observer:     cfg.Observer,
	}
	if p.concurrency <= 0 {
		p.concurrency = defaultWebhookConcurrency
	}
	if p.storeTimeout <= 0 {
		p.storeTimeout = defaultStoreTimeout
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard, "", 0)
	}
	if p.observer == nil {
		p.observer = noopObserver{}
	}
	return p
}

// Ingest never fails: unmatched events are dropped, and a store error on one
// entry is logged without affecting the others.
func (p *ResponseIngester) Ingest(ctx context.Context, events []domain.InboundEvent) IngestReport {
	matched, responses := collapseResponses(events)
	report := IngestReport{
		Received: len(events),
		Matched:  matched,
		Unique:   len(responses),
	}

	// Provider disconnects must not cut the batch short.
	base := context.WithoutCancel(ctx)

	var applied, skipped, failed atomic.Int64
	var group errgroup.Group
	group.SetLimit(p.concurrency)
	for _, response := range responses {
		group.Go(func() error {
			storeCtx, cancel := context.WithTimeout(base, p.storeTimeout)
			defer cancel()

			ok, err := p.surveys.ApplyResponse(storeCtx, response.SurveyID, response.Email, response.Choice)
			switch {
			case err != nil:
				failed.Add(1)
				p.logger.Printf("回答の反映に失敗: survey=%s email=%s choice=%s: %v", response.SurveyID, response.Email, response.Choice, err)
			case ok:
				applied.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = group.Wait()

	report.Applied = int(applied.Load())
	report.Skipped = int(skipped.Load())
	report.Failed = int(failed.Load())
	p.observer.ResponsesIngested(report)
	return report
}

// collapseResponses extracts answers from the events and keeps the first one
// seen for each (email, surveyId) pair, in first-seen order.
func collapseResponses(events []domain.InboundEvent) (int, []domain.Response) {
	matched := 0
	index := make(map[domain.ResponseKey]int)
	responses := make([]domain.Response, 0)
	for _, event := range events {
		response, ok := domain.ExtractResponse(event)
		if !ok {
			continue
		}
		matched++
		key := response.Key()
		if _, seen := index[key]; seen {
			continue
		}
		index[key] = len(responses)
		responses = append(responses, response)
	}
	return matched, responses
}

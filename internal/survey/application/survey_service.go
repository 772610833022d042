package application

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

// surveyCost is the number of credits one survey consumes.
const surveyCost = 1

const defaultDispatchTimeout = 30 * time.Second

// SurveyServiceConfig defines dependencies of the survey use-cases.
type SurveyServiceConfig struct {
	Surveys         SurveyRepository
	Ledger          CreditLedger
	Reconciliations ReconciliationRepository
	Dispatcher      Dispatcher
	Renderer        Renderer
	DispatchTimeout time.Duration
	Logger          *log.Logger
	Observer        Observer
	Now             func() time.Time
}

// SurveyService implements SurveyCommandService and SurveyQueryService.
type SurveyService struct {
	surveys         SurveyRepository
	ledger          CreditLedger
	reconciliations ReconciliationRepository
	dispatcher      Dispatcher
	renderer        Renderer
	dispatchTimeout time.Duration
	logger          *log.Logger
	observer        Observer
	now             func() time.Time
}

// NewSurveyService builds the survey command and query services over shared dependencies.
func NewSurveyService(cfg SurveyServiceConfig) *SurveyService {
	svc := &SurveyService{
		surveys:         cfg.Surveys,
		ledger:          cfg.Ledger,
		reconciliations: cfg.Reconciliations,
		dispatcher:      cfg.Dispatcher,
		renderer:        cfg.Renderer,
		dispatchTimeout: cfg.DispatchTimeout,
		logger:          cfg.Logger,
		observer:        cfg.Observer,
		now:             cfg.Now,
	}
	if svc.dispatchTimeout <= 0 {
		svc.dispatchTimeout = defaultDispatchTimeout
	}
	if svc.logger == nil {
		svc.logger = log.New(io.Discard, "", 0)
	}
	if svc.observer == nil {
		svc.observer = noopObserver{}
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// Create validates the recipient list, checks the balance, sends the survey
// and only then persists it and debits one credit. A failed debit after the
// mail went out does not fail the call; it is recorded for reconciliation.
func (s *SurveyService) Create(ctx context.Context, cmd CreateSurveyCommand) (*CreateSurveyResult, error) {
	recipients, err := domain.ParseRecipients(cmd.Recipients)
	if err != nil {
		s.observer.SurveyRejected("validation")
		return nil, err
	}

	account, err := s.ledger.FindByID(ctx, cmd.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !account.CanAfford(surveyCost) {
		s.observer.SurveyRejected("insufficient_credits")
		return nil, domain.ErrInsufficientCredits
	}

	survey := domain.NewSurvey(s.surveys.NewID(), account.ID, cmd.Title, cmd.Subject, cmd.Body, recipients, s.now().UTC())

	if err := s.dispatch(ctx, survey); err != nil {
		s.observer.SurveyRejected("dispatch")
		return nil, err
	}

	// The mail is out; finish the bookkeeping even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if err := s.surveys.Insert(ctx, survey); err != nil {
		s.logger.Printf("送信済みアンケートの保存に失敗: survey=%s account=%s: %v", survey.ID, account.ID, err)
		return nil, fmt.Errorf("persist survey: %w", err)
	}

	updated, err := s.ledger.Debit(ctx, account.ID, surveyCost)
	if err != nil {
		s.logger.Printf("クレジットの減算に失敗: survey=%s account=%s: %v", survey.ID, account.ID, err)
		s.recordPendingDebit(ctx, survey, err)
		updated = account
	} else {
		s.observer.CreditsDebited(surveyCost)
	}

	s.observer.SurveyCreated()
	return &CreateSurveyResult{Survey: survey, Account: updated}, nil
}

func (s *SurveyService) dispatch(ctx context.Context, survey *domain.Survey) error {
	html, err := s.renderer.RenderSurvey(survey)
	if err != nil {
		return &domain.DispatchError{Err: fmt.Errorf("render survey: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()

	started := time.Now()
	err = s.dispatcher.Send(ctx, Dispatch{
		SurveyID:   survey.ID,
		Subject:    survey.Subject,
		HTML:       html,
		Recipients: survey.RecipientEmails(),
	})
	s.observer.DispatchCompleted(time.Since(started), err)
	if err != nil {
		return &domain.DispatchError{Err: err}
	}
	return nil
}

func (s *SurveyService) recordPendingDebit(ctx context.Context, survey *domain.Survey, cause error) {
	if s.reconciliations == nil {
		return
	}
	debit := domain.PendingDebit{
		AccountID: survey.AccountID,
		SurveyID:  survey.ID,
		Credits:   surveyCost,
		Error:     cause.Error(),
		Status:    domain.PendingDebitStatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.reconciliations.RecordPendingDebit(ctx, debit); err != nil {
		s.logger.Printf("未反映クレジットの記録に失敗: survey=%s: %v", survey.ID, err)
	}
}

// List returns the account's surveys without recipient detail, newest first.
func (s *SurveyService) List(ctx context.Context, accountID string) ([]domain.Survey, error) {
	return s.surveys.ListByAccount(ctx, accountID)
}

// Detail returns one survey owned by the account.
func (s *SurveyService) Detail(ctx context.Context, accountID, surveyID string) (*domain.Survey, error) {
	survey, err := s.surveys.FindByID(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if survey.AccountID != accountID {
		return nil, domain.ErrNotFound
	}
	return survey, nil
}

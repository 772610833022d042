package application

import (
	"context"
	"time"

	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

// SurveyRepository is the survey store. ApplyResponse must be a single atomic
// conditional update so concurrent voters never lose or double-apply a tally.
type SurveyRepository interface {
	NewID() string
	Insert(ctx context.Context, survey *domain.Survey) error
	FindByID(ctx context.Context, id string) (*domain.Survey, error)
	ListByAccount(ctx context.Context, accountID string) ([]domain.Survey, error)
	ApplyResponse(ctx context.Context, surveyID, email string, choice domain.Choice) (bool, error)
}

// CreditLedger mutates account balances. Debit must refuse atomically when
// the balance is below n.
type CreditLedger interface {
	FindByID(ctx context.Context, accountID string) (*domain.Account, error)
	Debit(ctx context.Context, accountID string, n int) (*domain.Account, error)
	Credit(ctx context.Context, accountID string, n int) (*domain.Account, error)
}

// AccountRepository adds account provisioning to the ledger.
type AccountRepository interface {
	CreditLedger
	FindOrCreateByProvider(ctx context.Context, providerID string, initialCredits int) (*domain.Account, error)
}

// ReconciliationRepository keeps debits that failed after dispatch.
type ReconciliationRepository interface {
	RecordPendingDebit(ctx context.Context, debit domain.PendingDebit) error
	ListPending(ctx context.Context, limit int) ([]domain.PendingDebit, error)
}

// PaymentRepository records settled payments. Record reports false when the
// payment id was already recorded.
type PaymentRepository interface {
	Record(ctx context.Context, payment domain.Payment) (bool, error)
	Forget(ctx context.Context, paymentID string) error
}

// Dispatch is one outbound survey mailing.
type Dispatch struct {
	SurveyID   string
	Subject    string
	HTML       string
	Recipients []string
}

// Dispatcher sends a survey mailing. The whole batch succeeds or fails.
type Dispatcher interface {
	Send(ctx context.Context, dispatch Dispatch) error
}

// Renderer turns a survey into the HTML body with its tracking links.
type Renderer interface {
	RenderSurvey(survey *domain.Survey) (string, error)
}

// Observer receives operational signals for metrics.
type Observer interface {
	SurveyCreated()
	SurveyRejected(reason string)
	DispatchCompleted(elapsed time.Duration, err error)
	CreditsDebited(n int)
	ResponsesIngested(report IngestReport)
}

// SurveyCommandService handles writing use-cases.
type SurveyCommandService interface {
	Create(ctx context.Context, cmd CreateSurveyCommand) (*CreateSurveyResult, error)
}

// SurveyQueryService describes survey read use-cases.
type SurveyQueryService interface {
	List(ctx context.Context, accountID string) ([]domain.Survey, error)
	Detail(ctx context.Context, accountID, surveyID string) (*domain.Survey, error)
}

// WebhookProcessor applies provider click events to survey tallies.
type WebhookProcessor interface {
	Ingest(ctx context.Context, events []domain.InboundEvent) IngestReport
}

// AccountService describes account and billing use-cases.
type AccountService interface {
	Resolve(ctx context.Context, providerID string) (*domain.Account, error)
	Current(ctx context.Context, accountID string) (*domain.Account, error)
	Grant(ctx context.Context, accountID string, credits int) (*domain.Account, error)
	ApplyPayment(ctx context.Context, cmd PaymentCommand) (*PaymentResult, error)
}

// CreateSurveyCommand carries the submitted survey form.
type CreateSurveyCommand struct {
	AccountID  string
	Title      string
	Subject    string
	Body       string
	Recipients string
}

// CreateSurveyResult holds the persisted survey and the account after the debit.
type CreateSurveyResult struct {
	Survey  *domain.Survey
	Account *domain.Account
}

// IngestReport summarises one webhook batch.
type IngestReport struct {
	Received int `json:"received"`
	Matched  int `json:"matched"`
	Unique   int `json:"unique"`
	Applied  int `json:"applied"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// PaymentCommand is a settled payment notification.
type PaymentCommand struct {
	PaymentID string
	AccountID string
	Credits   int
}

// PaymentResult reports the balance after a payment and whether it was a replay.
type PaymentResult struct {
	Account   *domain.Account
	Duplicate bool
}

type noopObserver struct{}

func (noopObserver) SurveyCreated()                        {}
func (noopObserver) SurveyRejected(string)                 {}
func (noopObserver) DispatchCompleted(time.Duration, error) {}
func (noopObserver) CreditsDebited(int)                    {}
func (noopObserver) ResponsesIngested(IngestReport)        {}

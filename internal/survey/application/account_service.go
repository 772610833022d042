package application

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

// AccountServiceConfig defines dependencies of the account use-cases.
type AccountServiceConfig struct {
	Accounts       AccountRepository
	Payments       PaymentRepository
	InitialCredits int
	Logger         *log.Logger
	Now            func() time.Time
}

// Accounts implements AccountService.
type Accounts struct {
	accounts       AccountRepository
	payments       PaymentRepository
	initialCredits int
	logger         *log.Logger
	now            func() time.Time
}

func NewAccountService(cfg AccountServiceConfig) *Accounts {
	svc := &Accounts{
		accounts:       cfg.Accounts,
		payments:       cfg.Payments,
		initialCredits: cfg.InitialCredits,
		logger:         cfg.Logger,
		now:            cfg.Now,
	}
	if svc.initialCredits < 0 {
		svc.initialCredits = 0
	}
	if svc.logger == nil {
		svc.logger = log.New(io.Discard, "", 0)
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// Resolve returns the account for an authenticated principal, creating it
// with the initial balance on first sight.
func (s *Accounts) Resolve(ctx context.Context, providerID string) (*domain.Account, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, domain.ErrNotFound
	}
	return s.accounts.FindOrCreateByProvider(ctx, providerID, s.initialCredits)
}

func (s *Accounts) Current(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.accounts.FindByID(ctx, accountID)
}

// Grant credits an account unconditionally.
func (s *Accounts) Grant(ctx context.Context, accountID string, credits int) (*domain.Account, error) {
	if credits <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	return s.accounts.Credit(ctx, accountID, credits)
}

// ApplyPayment credits the account once per payment id. A replayed payment
// returns the current balance with Duplicate set.
func (s *Accounts) ApplyPayment(ctx context.Context, cmd PaymentCommand) (*PaymentResult, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("payment id is required")
	}
	if cmd.Credits <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	account, err := s.accounts.FindByID(ctx, cmd.AccountID)
	if err != nil {
		return nil, err
	}

	recorded, err := s.payments.Record(ctx, domain.Payment{
		ID:        paymentID,
		AccountID: account.ID,
		Credits:   cmd.Credits,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	if !recorded {
		return &PaymentResult{Account: account, Duplicate: true}, nil
	}

	updated, err := s.accounts.Credit(ctx, account.ID, cmd.Credits)
	if err != nil {
		if forgetErr := s.payments.Forget(context.WithoutCancel(ctx), paymentID); forgetErr != nil {
			s.logger.Printf("決済記録の取り消しに失敗: payment=%s: %v", paymentID, forgetErr)
		}
		return nil, fmt.Errorf("credit account: %w", err)
	}
	return &PaymentResult{Account: updated}, nil
}

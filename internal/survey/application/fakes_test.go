package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// memorySurveys mimics the conditional update of the Mongo store under a mutex.
type memorySurveys struct {
	mu         sync.Mutex
	nextID     int
	surveys    map[string]*domain.Survey
	insertErr  error
	applyErr   map[string]error
	applyCalls atomic.Int64
}

func newMemorySurveys() *memorySurveys {
	return &memorySurveys{surveys: make(map[string]*domain.Survey), applyErr: make(map[string]error)}
}

func (m *memorySurveys) NewID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return fmt.Sprintf("S%d", m.nextID)
}

func (m *memorySurveys) Insert(ctx context.Context, survey *domain.Survey) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *survey
	copied.Recipients = append([]domain.Recipient(nil), survey.Recipients...)
	m.surveys[survey.ID] = &copied
	return nil
}

func (m *memorySurveys) FindByID(_ context.Context, id string) (*domain.Survey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	survey, ok := m.surveys[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *survey
	copied.Recipients = append([]domain.Recipient(nil), survey.Recipients...)
	return &copied, nil
}

func (m *memorySurveys) ListByAccount(_ context.Context, accountID string) ([]domain.Survey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.Survey, 0)
	for _, survey := range m.surveys {
		if survey.AccountID != accountID {
			continue
		}
		copied := *survey
		copied.Recipients = nil
		result = append(result, copied)
	}
	return result, nil
}

func (m *memorySurveys) ApplyResponse(ctx context.Context, surveyID, email string, choice domain.Choice) (bool, error) {
	m.applyCalls.Add(1)
	if err := m.applyErr[email]; err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	survey, ok := m.surveys[surveyID]
	if !ok {
		return false, nil
	}
	for i := range survey.Recipients {
		r := &survey.Recipients[i]
		if r.Email != email || r.Responded {
			continue
		}
		switch choice {
		case domain.ChoiceYes:
			survey.Yes++
		case domain.ChoiceNo:
			survey.No++
		}
		r.Responded = true
		now := fixedNow
		survey.LastResponded = &now
		return true, nil
	}
	return false, nil
}

// memoryLedger mimics the "decrement if balance >= n" update.
type memoryLedger struct {
	mu        sync.Mutex
	accounts  map[string]*domain.Account
	debitErr  error
	creditErr error
	nextID    int
}

func newMemoryLedger(accounts ...domain.Account) *memoryLedger {
	l := &memoryLedger{accounts: make(map[string]*domain.Account)}
	for _, a := range accounts {
		l.accounts[a.ID] = &a
	}
	return l
}

func (l *memoryLedger) FindByID(_ context.Context, id string) (*domain.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (l *memoryLedger) Debit(_ context.Context, id string, n int) (*domain.Account, error) {
	if l.debitErr != nil {
		return nil, l.debitErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if a.Credits < n {
		return nil, domain.ErrInsufficientCredits
	}
	a.Credits -= n
	copied := *a
	return &copied, nil
}

func (l *memoryLedger) Credit(_ context.Context, id string, n int) (*domain.Account, error) {
	if l.creditErr != nil {
		return nil, l.creditErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	a.Credits += n
	copied := *a
	return &copied, nil
}

func (l *memoryLedger) FindOrCreateByProvider(_ context.Context, providerID string, initial int) (*domain.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.accounts {
		if a.ProviderID == providerID {
			copied := *a
			return &copied, nil
		}
	}
	l.nextID++
	a := &domain.Account{ID: fmt.Sprintf("A%d", l.nextID), ProviderID: providerID, Credits: initial, CreatedAt: fixedNow}
	l.accounts[a.ID] = a
	copied := *a
	return &copied, nil
}

func (l *memoryLedger) credits(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[id].Credits
}

type recordingDispatcher struct {
	mu    sync.Mutex
	sent  []Dispatch
	err   error
	delay time.Duration
}

func (d *recordingDispatcher) Send(ctx context.Context, dispatch Dispatch) error {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, dispatch)
	return nil
}

type stubRenderer struct {
	err error
}

func (r stubRenderer) RenderSurvey(survey *domain.Survey) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "<p>" + survey.Body + "</p>", nil
}

type memoryReconciliations struct {
	mu      sync.Mutex
	pending []domain.PendingDebit
}

func (m *memoryReconciliations) RecordPendingDebit(_ context.Context, debit domain.PendingDebit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, debit)
	return nil
}

func (m *memoryReconciliations) ListPending(_ context.Context, limit int) ([]domain.PendingDebit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > 0 && limit < len(m.pending) {
		return append([]domain.PendingDebit(nil), m.pending[:limit]...), nil
	}
	return append([]domain.PendingDebit(nil), m.pending...), nil
}

type memoryPayments struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
	err      error
}

func newMemoryPayments() *memoryPayments {
	return &memoryPayments{payments: make(map[string]domain.Payment)}
}

func (m *memoryPayments) Record(_ context.Context, payment domain.Payment) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[payment.ID]; ok {
		return false, nil
	}
	m.payments[payment.ID] = payment
	return true, nil
}

func (m *memoryPayments) Forget(_ context.Context, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payments, paymentID)
	return nil
}

var errStoreUnavailable = errors.New("store unavailable")

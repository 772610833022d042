package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sngm3741/emaily/api/internal/interfaces/http/common"
	"github.com/sngm3741/emaily/api/internal/survey/application"
	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

type fakeSurveys struct {
	createErr error
	lastCmd   application.CreateSurveyCommand
	created   int
	list      []domain.Survey
	detail    *domain.Survey
}

func (f *fakeSurveys) Create(_ context.Context, cmd application.CreateSurveyCommand) (*application.CreateSurveyResult, error) {
	f.lastCmd = cmd
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	return &application.CreateSurveyResult{
		Survey:  &domain.Survey{ID: "S1", AccountID: cmd.AccountID},
		Account: &domain.Account{ID: cmd.AccountID, ProviderID: "google-1", Credits: 4},
	}, nil
}

func (f *fakeSurveys) List(context.Context, string) ([]domain.Survey, error) {
	return f.list, nil
}

func (f *fakeSurveys) Detail(_ context.Context, accountID, surveyID string) (*domain.Survey, error) {
	if f.detail == nil || f.detail.ID != surveyID || f.detail.AccountID != accountID {
		return nil, domain.ErrNotFound
	}
	return f.detail, nil
}

type fakeWebhooks struct {
	events []domain.InboundEvent
	calls  int
}

func (f *fakeWebhooks) Ingest(_ context.Context, events []domain.InboundEvent) application.IngestReport {
	f.calls++
	f.events = events
	return application.IngestReport{Received: len(events), Applied: len(events)}
}

type fakeAccounts struct {
	account    *domain.Account
	paymentErr error
	payments   map[string]bool
}

func (f *fakeAccounts) Resolve(context.Context, string) (*domain.Account, error) {
	return f.account, nil
}

func (f *fakeAccounts) Current(_ context.Context, accountID string) (*domain.Account, error) {
	if f.account == nil || f.account.ID != accountID {
		return nil, domain.ErrNotFound
	}
	return f.account, nil
}

func (f *fakeAccounts) Grant(context.Context, string, int) (*domain.Account, error) {
	return f.account, nil
}

func (f *fakeAccounts) ApplyPayment(_ context.Context, cmd application.PaymentCommand) (*application.PaymentResult, error) {
	if f.paymentErr != nil {
		return nil, f.paymentErr
	}
	if f.payments == nil {
		f.payments = map[string]bool{}
	}
	duplicate := f.payments[cmd.PaymentID]
	if !duplicate {
		f.payments[cmd.PaymentID] = true
		f.account.Credits += cmd.Credits
	}
	return &application.PaymentResult{Account: f.account, Duplicate: duplicate}, nil
}

type apiFixture struct {
	router   chi.Router
	surveys  *fakeSurveys
	webhooks *fakeWebhooks
	accounts *fakeAccounts
	secret   []byte
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		surveys:  &fakeSurveys{},
		webhooks: &fakeWebhooks{},
		accounts: &fakeAccounts{account: &domain.Account{ID: "A1", ProviderID: "google-1", Credits: 5}},
		secret:   []byte("whsec"),
	}
	handler := NewHandler(Config{
		Logger:         log.New(io.Discard, "", 0),
		SurveyCommands: f.surveys,
		SurveyQueries:  f.surveys,
		Webhooks:       f.webhooks,
		Accounts:       f.accounts,
		BillingSecret:  f.secret,
	})

	// X-Test-Account があれば認証済みとして扱う
	auth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := r.Header.Get("X-Test-Account")
			if accountID == "" {
				common.WriteError(nil, w, http.StatusUnauthorized, "unauthenticated")
				return
			}
			ctx := common.ContextWithUser(r.Context(), common.AuthenticatedUser{ID: "google-1", AccountID: accountID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	f.router = chi.NewRouter()
	handler.Register(f.router, auth)
	return f
}

func (f *apiFixture) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

var authed = map[string]string{"X-Test-Account": "A1"}

func TestCreateSurveyReturnsAccount(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodPost, "/api/surveys", []byte(`{"title":" T ","subject":"S","body":"B","recipients":"a@x.com, b@x.com"}`), authed)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var account domain.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
	assert.Equal(t, 4, account.Credits)
	assert.Equal(t, "T", f.surveys.lastCmd.Title)
	assert.Equal(t, "A1", f.surveys.lastCmd.AccountID)
	assert.Equal(t, "a@x.com, b@x.com", f.surveys.lastCmd.Recipients)
}

func TestCreateSurveyErrors(t *testing.T) {
	valid := []byte(`{"title":"T","subject":"S","body":"B","recipients":"a@x.com"}`)

	tests := []struct {
		name      string
		body      []byte
		headers   map[string]string
		createErr error
		status    int
		contains  string
	}{
		{name: "unauthenticated", body: valid, status: http.StatusUnauthorized},
		{name: "malformed json", body: []byte(`{"title":`), headers: authed, status: http.StatusBadRequest},
		{name: "unknown field", body: []byte(`{"title":"T","subject":"S","body":"B","recipients":"a@x.com","x":1}`), headers: authed, status: http.StatusBadRequest},
		{name: "missing title", body: []byte(`{"title":"  ","subject":"S","body":"B","recipients":"a@x.com"}`), headers: authed, status: http.StatusBadRequest, contains: "title は必須です"},
		{name: "invalid recipients", body: valid, headers: authed, createErr: &domain.ValidationError{Invalid: []string{"bad", "worse"}}, status: http.StatusUnprocessableEntity, contains: `"invalidEmails":["bad","worse"]`},
		{name: "insufficient credits", body: valid, headers: authed, createErr: domain.ErrInsufficientCredits, status: http.StatusUnauthorized},
		{name: "dispatch failure", body: valid, headers: authed, createErr: &domain.DispatchError{Err: context.DeadlineExceeded}, status: http.StatusUnprocessableEntity},
		{name: "storage failure", body: valid, headers: authed, createErr: errors.New("persist survey: boom"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.surveys.createErr = tt.createErr

			rec := f.do(http.MethodPost, "/api/surveys", tt.body, tt.headers)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.contains != "" {
				assert.Contains(t, rec.Body.String(), tt.contains)
			}
			assert.Zero(t, f.surveys.created)
		})
	}
}

func TestListSurveysOmitsRecipients(t *testing.T) {
	f := newAPIFixture(t)
	f.surveys.list = []domain.Survey{
		{ID: "S2", Title: "second", Yes: 2, DateSent: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
		{ID: "S1", Title: "first", No: 1, DateSent: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	rec := f.do(http.MethodGet, "/api/surveys", nil, authed)

	require.Equal(t, http.StatusOK, rec.Code)
	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "S2", items[0]["id"])
	assert.NotContains(t, items[0], "recipients")
}

func TestListSurveysEmptyIsArray(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/api/surveys", nil, authed)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSurveyDetail(t *testing.T) {
	f := newAPIFixture(t)
	f.surveys.detail = &domain.Survey{
		ID:         "S1",
		AccountID:  "A1",
		Recipients: []domain.Recipient{{Email: "a@x.com", Responded: true}},
		Yes:        1,
	}

	rec := f.do(http.MethodGet, "/api/surveys/S1", nil, authed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"recipients":[{"email":"a@x.com","responded":true}]`)

	rec = f.do(http.MethodGet, "/api/surveys/S1", nil, map[string]string{"X-Test-Account": "A2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestThanksPage(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/api/surveys/S1/yes", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Thanks for voting!", rec.Body.String())
}

func TestCurrentUser(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/api/current_user", nil, authed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"credits":5`)

	rec = f.do(http.MethodGet, "/api/current_user", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookAcknowledgesBatch(t *testing.T) {
	f := newAPIFixture(t)

	body := []byte(`[{"email":"a@x.com","url":"http://h/api/surveys/S1/yes"},{"event":"open"}]`)
	rec := f.do(http.MethodPost, "/api/surveys/webhooks", body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	require.Len(t, f.webhooks.events, 2)
	assert.Equal(t, "a@x.com", f.webhooks.events[0].Email)
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	for _, body := range []string{``, `{}`, `null`, `[1,2]`, `not json`} {
		t.Run(body, func(t *testing.T) {
			f := newAPIFixture(t)
			rec := f.do(http.MethodPost, "/api/surveys/webhooks", []byte(body), nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, f.webhooks.calls)
		})
	}
}

func TestWebhookBodyLimit(t *testing.T) {
	f := newAPIFixture(t)

	fits := append(append([]byte("["), bytes.Repeat([]byte(" "), common.MaxWebhookRequestBody-2)...), ']')
	rec := f.do(http.MethodPost, "/api/surveys/webhooks", fits, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	oversized := append(append([]byte("["), bytes.Repeat([]byte(" "), common.MaxWebhookRequestBody)...), ']')
	rec = f.do(http.MethodPost, "/api/surveys/webhooks", oversized, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 1, f.webhooks.calls)
}

func signed(secret []byte, body []byte) map[string]string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return map[string]string{billingSignatureHeader: hex.EncodeToString(mac.Sum(nil))}
}

func TestBillingWebhookCreditsOnce(t *testing.T) {
	f := newAPIFixture(t)
	body := []byte(`{"paymentId":"pi_1","accountId":"A1","credits":5}`)

	rec := f.do(http.MethodPost, "/api/billing/webhook", body, signed(f.secret, body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"duplicate":false`)

	rec = f.do(http.MethodPost, "/api/billing/webhook", body, signed(f.secret, body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicate":true`)
	assert.Equal(t, 10, f.accounts.account.Credits)
}

func TestBillingWebhookErrors(t *testing.T) {
	body := []byte(`{"paymentId":"pi_1","accountId":"A1","credits":5}`)

	tests := []struct {
		name       string
		body       []byte
		headers    func(secret []byte) map[string]string
		paymentErr error
		status     int
	}{
		{name: "missing signature", body: body, headers: func([]byte) map[string]string { return nil }, status: http.StatusUnauthorized},
		{name: "wrong secret", body: body, headers: func([]byte) map[string]string { return signed([]byte("other"), body) }, status: http.StatusUnauthorized},
		{name: "non hex signature", body: body, headers: func([]byte) map[string]string { return map[string]string{billingSignatureHeader: "zz"} }, status: http.StatusUnauthorized},
		{name: "zero credits", body: []byte(`{"paymentId":"pi_1","accountId":"A1","credits":0}`), status: http.StatusBadRequest},
		{name: "missing payment id", body: []byte(`{"accountId":"A1","credits":1}`), status: http.StatusBadRequest},
		{name: "unknown account", body: body, paymentErr: domain.ErrNotFound, status: http.StatusNotFound},
		{name: "store failure", body: body, paymentErr: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.accounts.paymentErr = tt.paymentErr

			headers := signed(f.secret, tt.body)
			if tt.headers != nil {
				headers = tt.headers(f.secret)
			}
			rec := f.do(http.MethodPost, "/api/billing/webhook", tt.body, headers)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestVerifySignatureRequiresSecret(t *testing.T) {
	body := []byte(`{}`)
	assert.False(t, verifySignature(body, signed(nil, body)[billingSignatureHeader], nil))
	assert.True(t, verifySignature(body, signed([]byte("k"), body)[billingSignatureHeader], []byte("k")))
}

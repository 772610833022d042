package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sngm3741/emaily/api/internal/survey/application"
)

const sendGridSendPath = "/v3/mail/send"

// SendGridClient は SendGrid v3 Mail Send API 経由でアンケートを配信する。
type SendGridClient struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
	logger     *log.Logger
}

// SendGridConfig は SendGridClient の初期化パラメータ。
type SendGridConfig struct {
	BaseURL    string
	APIKey     string
	From       string
	HTTPClient *http.Client
	Logger     *log.Logger
}

func NewSendGridClient(cfg SendGridConfig) *SendGridClient {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}
	return &SendGridClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		from:       strings.TrimSpace(cfg.From),
		httpClient: client,
		logger:     logger,
	}
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridPersonalization struct {
	To         []sendGridAddress `json:"to"`
	CustomArgs map[string]string `json:"custom_args,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridClickTracking struct {
	Enable     bool `json:"enable"`
	EnableText bool `json:"enable_text"`
}

type sendGridTrackingSettings struct {
	ClickTracking sendGridClickTracking `json:"click_tracking"`
}

type sendGridMessage struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	TrackingSettings sendGridTrackingSettings  `json:"tracking_settings"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

// Send は 1 回の API 呼び出しで全受信者へ配信する。受信者ごとに
// personalization を分けるため、宛先は互いに見えない。
func (c *SendGridClient) Send(ctx context.Context, dispatch application.Dispatch) error {
	if len(dispatch.Recipients) == 0 {
		return errors.New("no recipients")
	}

	message := buildSendGridMessage(c.from, dispatch)
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sendGridSendPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		var errResp sendGridErrorResponse
		if json.Unmarshal(raw, &errResp) == nil && len(errResp.Errors) > 0 {
			return fmt.Errorf("sendgrid error: status=%d message=%s", resp.StatusCode, errResp.Errors[0].Message)
		}
		return fmt.Errorf("sendgrid error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	c.logger.Printf("アンケートを配信しました: surveyId=%s recipients=%d requestId=%s", dispatch.SurveyID, len(dispatch.Recipients), requestID)
	return nil
}

func buildSendGridMessage(from string, dispatch application.Dispatch) sendGridMessage {
	args := map[string]string{"surveyId": dispatch.SurveyID}

	personalizations := make([]sendGridPersonalization, 0, len(dispatch.Recipients))
	for _, email := range dispatch.Recipients {
		personalizations = append(personalizations, sendGridPersonalization{
			To:         []sendGridAddress{{Email: email}},
			CustomArgs: args,
		})
	}

	return sendGridMessage{
		Personalizations: personalizations,
		From:             sendGridAddress{Email: from},
		Subject:          dispatch.Subject,
		Content:          []sendGridContent{{Type: "text/html", Value: dispatch.HTML}},
		TrackingSettings: sendGridTrackingSettings{
			ClickTracking: sendGridClickTracking{Enable: true, EnableText: true},
		},
		CustomArgs: args,
	}
}

package common

const (
	// MaxSurveyRequestBody limits JSON request bodies for survey creation.
	MaxSurveyRequestBody = 1 << 20
	// MaxWebhookRequestBody limits provider event batches. SendGrid flushes its
	// event webhook every 30 seconds or at 768 KB, so a legitimate batch stays
	// far below this; a larger body is answered with 413.
	MaxWebhookRequestBody = 5 << 20
	// MaxBillingRequestBody limits payment notifications.
	MaxBillingRequestBody = 64 << 10
)

package domain

import (
	"bytes"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
)

// ResponsePathTemplate is the route shape of the tracking links embedded in survey mail.
const ResponsePathTemplate = "/api/surveys/:surveyId/:choice"

var responsePathPattern = regexp.MustCompile(`^/api/surveys/([^/]+)/([^/]+)/?$`)

// InboundEvent is one delivery or click record reported by the mail provider.
type InboundEvent struct {
	Email string
	URL   string
}

// Response is an inbound event resolved to a survey answer.
type Response struct {
	SurveyID string
	Email    string
	Choice   Choice
}

// ResponseKey identifies the (recipient, survey) pair a response counts against.
type ResponseKey struct {
	Email    string
	SurveyID string
}

func (r Response) Key() ResponseKey {
	return ResponseKey{Email: r.Email, SurveyID: r.SurveyID}
}

// ExtractResponse matches the event URL path against ResponsePathTemplate.
// Events without an email, without a parseable URL, with another path or
// with a choice other than yes/no are not responses.
func ExtractResponse(event InboundEvent) (Response, bool) {
	email := strings.TrimSpace(event.Email)
	if email == "" || event.URL == "" {
		return Response{}, false
	}
	parsed, err := url.Parse(event.URL)
	if err != nil {
		return Response{}, false
	}
	match := responsePathPattern.FindStringSubmatch(parsed.Path)
	if match == nil {
		return Response{}, false
	}
	choice, ok := ParseChoice(match[2])
	if !ok {
		return Response{}, false
	}
	return Response{SurveyID: match[1], Email: email, Choice: choice}, true
}

// ResponsePath returns the tracking path for a survey answer.
func ResponsePath(surveyID string, choice Choice) string {
	return "/api/surveys/" + url.PathEscape(surveyID) + "/" + choice.String()
}

// DecodeInboundEvents parses a provider batch. The payload must be a JSON
// array of objects; anything else fails with ErrMalformedPayload. Fields that
// are missing or not strings decode as empty and the event is later dropped.
func DecodeInboundEvents(data []byte) ([]InboundEvent, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil || items == nil {
		return nil, ErrMalformedPayload
	}

	events := make([]InboundEvent, 0, len(items))
	for _, item := range items {
		trimmed := bytes.TrimSpace(item)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, ErrMalformedPayload
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, ErrMalformedPayload
		}
		events = append(events, InboundEvent{
			Email: stringField(fields, "email"),
			URL:   stringField(fields, "url"),
		})
	}
	return events, nil
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

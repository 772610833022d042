package domain

import "time"

// Survey is a yes/no question mailed to a recipient list and the tally of its answers.
type Survey struct {
	ID            string
	AccountID     string
	Title         string
	Subject       string
	Body          string
	Recipients    []Recipient
	Yes           int
	No            int
	DateSent      time.Time
	LastResponded *time.Time
}

// Recipient is one addressed destination of a survey and its response state.
type Recipient struct {
	Email     string
	Responded bool
}

// NewSurvey builds an unsent survey aggregate with every recipient unresponded.
// Each address appears at most once, so a response can only be counted once.
func NewSurvey(id, accountID, title, subject, body string, recipients RecipientList, sentAt time.Time) *Survey {
	list := make([]Recipient, 0, len(recipients))
	seen := make(map[Email]struct{}, len(recipients))
	for _, email := range recipients {
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		list = append(list, Recipient{Email: email.String()})
	}
	return &Survey{
		ID:         id,
		AccountID:  accountID,
		Title:      title,
		Subject:    subject,
		Body:       body,
		Recipients: list,
		DateSent:   sentAt,
	}
}

// RecipientEmails returns the addresses in recipient order.
func (s *Survey) RecipientEmails() []string {
	emails := make([]string, 0, len(s.Recipients))
	for _, r := range s.Recipients {
		emails = append(emails, r.Email)
	}
	return emails
}

// Tally returns the number of applied responses.
func (s *Survey) Tally() int {
	return s.Yes + s.No
}

// Count returns the counter value for the given choice.
func (s *Survey) Count(choice Choice) int {
	switch choice {
	case ChoiceYes:
		return s.Yes
	case ChoiceNo:
		return s.No
	}
	return 0
}

package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// emailPattern accepts a dot-atom or quoted local part and either a dotted
// domain with an alphabetic TLD or a bracketed IPv4 literal. A quoted local
// part may not contain quotes or control characters, so addresses are safe to
// place in mail headers.
var emailPattern = regexp.MustCompile(`^(([^<>()\[\]\\.,;:\s@"]+(\.[^<>()\[\]\\.,;:\s@"]+)*)|("[^"\x00-\x1f\x7f]+"))@((\[[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\])|(([a-zA-Z\-0-9]+\.)+[a-zA-Z]{2,}))$`)

type Email string

func NewEmail(value string) (Email, error) {
	trimmed := strings.TrimSpace(value)
	if !emailPattern.MatchString(trimmed) {
		return "", fmt.Errorf("invalid email: %q", trimmed)
	}
	return Email(trimmed), nil
}

func (e Email) String() string {
	return string(e)
}

type RecipientList []Email

// ParseRecipients splits a comma separated list and validates every entry.
// All invalid entries are reported together in a *ValidationError. A repeated
// address is kept once, at its first position.
func ParseRecipients(raw string) (RecipientList, error) {
	parts := strings.Split(raw, ",")
	list := make(RecipientList, 0, len(parts))
	seen := make(map[Email]struct{}, len(parts))
	var invalid []string
	for _, part := range parts {
		email, err := NewEmail(part)
		if err != nil {
			invalid = append(invalid, strings.TrimSpace(part))
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		list = append(list, email)
	}
	if len(invalid) > 0 {
		return nil, &ValidationError{Invalid: invalid}
	}
	return list, nil
}

func (l RecipientList) Strings() []string {
	result := make([]string, 0, len(l))
	for _, v := range l {
		result = append(result, string(v))
	}
	return result
}

// Choice is the answer encoded in a tracking link.
type Choice string

const (
	ChoiceYes Choice = "yes"
	ChoiceNo  Choice = "no"
)

// Choices lists every valid answer in link order.
var Choices = []Choice{ChoiceYes, ChoiceNo}

func ParseChoice(value string) (Choice, bool) {
	switch Choice(value) {
	case ChoiceYes:
		return ChoiceYes, true
	case ChoiceNo:
		return ChoiceNo, true
	}
	return "", false
}

func (c Choice) String() string {
	return string(c)
}

package domain

import "time"

// DefaultCredits is granted to an account on first authentication.
const DefaultCredits = 5

// Account holds the credit balance of one authenticated principal.
type Account struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"providerId"`
	Credits    int       `json:"credits"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CanAfford reports whether the balance covers n credits.
func (a *Account) CanAfford(n int) bool {
	return a != nil && n > 0 && a.Credits >= n
}

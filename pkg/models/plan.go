package models

import "time"

// ConfirmationPlan is the two-phase write contract. A prepare tool
// creates the plan; the matching commit tool consumes it exactly once.
// Expired plans are unreachable.
type ConfirmationPlan struct {
	ID        string            `json:"id"`
	Tool      string            `json:"tool"`
	TenantID  string            `json:"tenantId"`
	UserID    string            `json:"userId"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Data      map[string]string `json:"data"`
}

// Expired reports whether the plan can no longer be committed at now.
func (p *ConfirmationPlan) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

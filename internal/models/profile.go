package models

import (
	"time"

	"github.com/google/uuid"
)

// Weight units accepted in Preferences.
const (
	WeightUnitKg  = "kg"
	WeightUnitLbs = "lbs"
)

// UserProfile is the application-level user record, distinct from the
// identity carried by the Session. It always belongs to the user of the
// current session.
//
// JSON example:
//
//	{
//	  "id": "8c1b3f5e-8f1e-4a55-b1d0-2b1c8a9f0e11",
//	  "user_id": "550e8400-e29b-41d4-a716-446655440000",
//	  "username": "jane",
//	  "preferences": {"weight_unit": "kg", "rest_timer_seconds": 90},
//	  "created_at": "2025-04-22T20:37:38Z",
//	  "updated_at": "2025-04-22T20:37:38Z"
//	}
type UserProfile struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	UserID      uuid.UUID   `json:"user_id" db:"user_id"`
	Username    string      `json:"username" db:"username"`
	Preferences Preferences `json:"preferences" db:"preferences"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Preferences holds per-user settings stored as JSONB.
type Preferences struct {
	WeightUnit       string `json:"weight_unit"`
	RestTimerSeconds int    `json:"rest_timer_seconds"`
}

// DefaultPreferences is used when a profile is created on first fetch.
func DefaultPreferences() Preferences {
	return Preferences{
		WeightUnit:       WeightUnitKg,
		RestTimerSeconds: 90,
	}
}

// Clone returns a copy safe to hand to readers.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

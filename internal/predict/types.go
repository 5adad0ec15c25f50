package predict

import (
	"time"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/apperr"
)

const (
	DirectionUp   = "up"
	DirectionDown = "down"
	DirectionHold = "hold"
)

const (
	MinHorizonMinutes = 5
	MaxHorizonMinutes = 1440
)

// Signal is one directional prediction for an asset over a horizon.
type Signal struct {
	Symbol         string    `json:"symbol"`
	PredictedPrice float64   `json:"predicted_price"`
	Direction      string    `json:"direction"`
	Confidence     float64   `json:"confidence"`
	HorizonMinutes int       `json:"horizon_minutes"`
	ModelVersion   string    `json:"model_version"`
	CreatedAt      time.Time `json:"created_at"`
}

// ValidateHorizon enforces the 5–1440 minute contract.
func ValidateHorizon(minutes int) error {
	if minutes < MinHorizonMinutes || minutes > MaxHorizonMinutes {
		return apperr.Validationf("horizon must be between %d and %d minutes, got %d",
			MinHorizonMinutes, MaxHorizonMinutes, minutes)
	}
	return nil
}

// FreshEnough reports whether a cached signal may still be served.
func (s Signal) FreshEnough(ttl time.Duration, now time.Time) bool {
	if s.CreatedAt.IsZero() {
		return false
	}
	return now.Sub(s.CreatedAt) < ttl
}

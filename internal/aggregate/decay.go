package aggregate

import (
	"math"
	"time"

	"github.com/sells-group/marketmind/internal/model"
)

// DecayConfig controls how confidence fades with data age.
type DecayConfig struct {
	HalfLife time.Duration
	Floor    float64
}

// partialFailureFactor discounts values that came from a partially failed fetch.
const partialFailureFactor = 0.5

// EffectiveConfidence computes the time-decayed confidence of a value fetched at fetchedAt.
// Formula: effective = max(floor, raw * 2^(-age / halfLife))
func EffectiveConfidence(raw float64, fetchedAt, now time.Time, decay DecayConfig) float64 {
	if raw <= 0 {
		return 0
	}
	if fetchedAt.IsZero() {
		return raw
	}

	age := now.Sub(fetchedAt)
	if age <= 0 {
		return raw
	}

	halfLife := decay.HalfLife
	if halfLife <= 0 {
		halfLife = 7 * 24 * time.Hour
	}

	decayed := raw * math.Pow(2, -float64(age)/float64(halfLife))
	if decayed < decay.Floor {
		return decay.Floor
	}
	return decayed
}

// statusFactor scales source confidence by how cleanly the fetch completed.
func statusFactor(st model.Status) float64 {
	switch st {
	case model.StatusSuccess:
		return 1
	case model.StatusPartialFailure:
		return partialFailureFactor
	default:
		return 0
	}
}

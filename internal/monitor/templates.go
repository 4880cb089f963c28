package monitor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

// minDelayMinutes is the smallest delay a crisis market asks about.
const minDelayMinutes = 15

// DelayThreshold is the delay, in minutes, a crisis market built from sig
// asks about. The expiry sweep resolves against the same number.
func DelayThreshold(sig domain.CrisisSignal) int {
	return max(sig.PredictedDelayMinutes, minDelayMinutes)
}

// Describe renders the market question for a signal.
func Describe(sig domain.CrisisSignal) string {
	delay := DelayThreshold(sig)
	switch sig.Kind {
	case domain.CrisisDelivery:
		return fmt.Sprintf("%s package %s delayed >%dmin", strings.ToUpper(sig.Provider), sig.Target, delay)
	case domain.CrisisFlight:
		return fmt.Sprintf("Flight %s delay >%dmin - Confidence %d%%", sig.Target, delay, int(math.Round(sig.Confidence*100)))
	case domain.CrisisTransit:
		return fmt.Sprintf("%s %s delayed >%dmin", strings.ToUpper(sig.Provider), sig.Target, delay)
	}
	return fmt.Sprintf("%s %s delayed >%dmin", sig.Kind, sig.Target, delay)
}

// DefaultHorizon is how long a crisis market of each kind stays open.
func DefaultHorizon(kind domain.CrisisKind) time.Duration {
	switch kind {
	case domain.CrisisDelivery:
		return 8 * time.Hour
	case domain.CrisisFlight:
		return 12 * time.Hour
	case domain.CrisisTransit:
		return 4 * time.Hour
	}
	return 6 * time.Hour
}

// DefaultThreshold is the probability above which a signal opens a market.
func DefaultThreshold(kind domain.CrisisKind) float64 {
	switch kind {
	case domain.CrisisDelivery:
		return 0.3
	case domain.CrisisTransit:
		return 0.4
	}
	return 0.5
}

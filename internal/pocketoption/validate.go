package pocketoption

import (
	"fmt"
	"math"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

// ValidateAmount checks a trade amount against the configured [min, max]
// bound. Infinite or NaN amounts are always rejected, regardless of bound.
func ValidateAmount(amount, min, max float64) error {
	const op = "pocketoption.ValidateAmount"
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return domain.NewError(op, domain.KindValidation, "amount must be a finite number")
	}
	if amount <= 0 {
		return domain.NewError(op, domain.KindValidation, "amount must be positive")
	}
	if amount < min || amount > max {
		return domain.NewError(op, domain.KindValidation, fmt.Sprintf("amount %.2f outside allowed range [%.2f, %.2f]", amount, min, max))
	}
	return nil
}

// ValidateDuration checks a trade duration against the asset's allowed
// duration list. When the asset table has not yet been populated for this
// asset (AllowedDurationsS empty), only the positivity check applies: any
// positive duration is accepted and a non-positive one is rejected.
func ValidateDuration(asset domain.Asset, durationS int64) error {
	const op = "pocketoption.ValidateDuration"
	if durationS <= 0 {
		return domain.NewError(op, domain.KindValidation, "duration must be positive")
	}
	if len(asset.AllowedDurationsS) == 0 {
		return nil
	}
	if !asset.AllowsDuration(durationS) {
		return domain.NewError(op, domain.KindValidation, fmt.Sprintf("duration %ds not allowed for asset %s", durationS, asset.Symbol))
	}
	return nil
}

// AlignExpiry rounds a requested expiry forward to the next period boundary
// PocketOption's server enforces for durations of 60s or more (the classic
// "binary options expire on the minute" rule). Durations under 60s (the
// turbo/5s-15s contracts) are not period-aligned and pass through
// unchanged, added directly to serverNow.
func AlignExpiry(serverNow time.Time, durationS int64) time.Time {
	naive := serverNow.Add(time.Duration(durationS) * time.Second)
	if durationS < 60 {
		return naive
	}

	period := time.Duration(durationS) * time.Second
	truncated := naive.Truncate(period)
	if truncated.Before(naive) {
		truncated = truncated.Add(period)
	}
	return truncated
}

package sale

import (
	"fmt"
	"time"
)

// VestingInput is everything the vesting schedule needs for one investor.
// CliffBasis is the investor's spend re-priced into sale units; it can
// differ from Entitled by the truncation of the price conversion.
type VestingInput struct {
	Entitled      Amount
	Claimed       Amount
	CliffBasis    Amount
	CliffPercent  uint8
	ClaimingStart time.Time
	ClaimingEnd   time.Time
	Now           time.Time
}

// VestedToDate returns the cumulative amount released at in.Now.
//
// After ClaimingEnd everything is vested. With a cliff, the cliff portion is
// available immediately (even before ClaimingStart) and the remainder vests
// linearly. Without a cliff, calling before ClaimingStart is an underflow.
func VestedToDate(in VestingInput) (Amount, error) {
	now := in.Now.Unix()
	if now > in.ClaimingEnd.Unix() {
		return in.Entitled, nil
	}

	if in.CliffPercent > 0 {
		cliff, err := cliffAmount(in.CliffBasis, in.CliffPercent)
		if err != nil {
			return Zero, err
		}
		if now < in.ClaimingStart.Unix() {
			return cliff, nil
		}
		window, err := claimingWindow(in)
		if err != nil {
			return Zero, err
		}
		remaining, err := in.Entitled.Sub(cliff)
		if err != nil {
			return Zero, fmt.Errorf("cliff exceeds entitlement: %w", err)
		}
		rate, err := remaining.Quo(window)
		if err != nil {
			return Zero, err
		}
		elapsed, err := seconds(in.ClaimingStart, in.Now)
		if err != nil {
			return Zero, err
		}
		vested, err := rate.Mul(elapsed)
		if err != nil {
			return Zero, err
		}
		return vested.Add(cliff)
	}

	window, err := claimingWindow(in)
	if err != nil {
		return Zero, err
	}
	rate, err := in.Entitled.Quo(window)
	if err != nil {
		return Zero, err
	}
	elapsed, err := seconds(in.ClaimingStart, in.Now)
	if err != nil {
		return Zero, fmt.Errorf("claiming has not started: %w", err)
	}
	return rate.Mul(elapsed)
}

// Claimable returns the increment releasable now: VestedToDate minus Claimed.
func Claimable(in VestingInput) (Amount, error) {
	vested, err := VestedToDate(in)
	if err != nil {
		return Zero, err
	}
	increment, err := vested.Sub(in.Claimed)
	if err != nil {
		return Zero, fmt.Errorf("claimed %s exceeds vested %s: %w", in.Claimed, vested, err)
	}
	return increment, nil
}

func claimingWindow(in VestingInput) (Amount, error) {
	window, err := seconds(in.ClaimingStart, in.ClaimingEnd)
	if err != nil {
		return Zero, fmt.Errorf("claiming window: %w", err)
	}
	return window, nil
}

func cliffAmount(basis Amount, percent uint8) (Amount, error) {
	hundredth, err := basis.Quo(NewAmount(100))
	if err != nil {
		return Zero, err
	}
	return hundredth.Mul(NewAmount(uint64(percent)))
}

// seconds returns to-from in whole seconds.
func seconds(from, to time.Time) (Amount, error) {
	d := to.Unix() - from.Unix()
	if d < 0 {
		return Zero, fmt.Errorf("%w: %s is before %s", ErrArithmeticUnderflow,
			to.UTC().Format(time.RFC3339), from.UTC().Format(time.RFC3339))
	}
	return NewAmount(uint64(d)), nil
}

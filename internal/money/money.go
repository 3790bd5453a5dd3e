// Package money implements the fee and revenue-split arithmetic used by the
// escrow, PPV, and payout components.
//
// All amounts are integers in the smallest currency unit. Two rounding rules
// are used and must not be mixed up:
//
//   - escrow captures use floor for the platform fee, remainder to the payee,
//   - PPV purchases round each named share half-up and give the "others"
//     share whatever is left, so the four parts always sum to the gross.
package money

import (
	"errors"

	"github.com/dkims/askpay/internal/config"
)

var ErrInvalidAmount = errors.New("money: invalid amount")

// PPVSplit is the four-way division of a single PPV purchase.
type PPVSplit struct {
	Platform int64 `json:"platform"`
	Asker    int64 `json:"asker"`
	Best     int64 `json:"best"`
	Others   int64 `json:"others"`
}

// Total returns the sum of all four shares.
func (s PPVSplit) Total() int64 {
	return s.Platform + s.Asker + s.Best + s.Others
}

// roundBPS computes amount*bps/10000 rounded half-up.
func roundBPS(amount, bps int64) int64 {
	return (amount*bps + 5000) / 10000
}

// floorBPS computes amount*bps/10000 rounded down.
func floorBPS(amount, bps int64) int64 {
	return amount * bps / 10000
}

// SplitPPV divides a PPV purchase amount between platform, asker, best
// responder, and the others pool. The others share absorbs all rounding
// remainder, so Platform+Asker+Best+Others == amount exactly.
func SplitPPV(amount int64, fees config.Fees) (PPVSplit, error) {
	if amount <= 0 {
		return PPVSplit{}, ErrInvalidAmount
	}

	s := PPVSplit{
		Platform: roundBPS(amount, fees.PlatformRateBPS),
		Asker:    roundBPS(amount, fees.AskerRateBPS),
		Best:     roundBPS(amount, fees.BestRateBPS),
	}
	s.Others = amount - s.Platform - s.Asker - s.Best
	if s.Others < 0 {
		// Only possible for tiny amounts where half-up rounding overshoots.
		return PPVSplit{}, ErrInvalidAmount
	}
	return s, nil
}

// EscrowFee returns the platform fee on a bounty capture (floored) and the
// remainder credited to the responder. fee+net == amount always.
func EscrowFee(amount int64, fees config.Fees) (fee, net int64) {
	fee = floorBPS(amount, fees.PlatformRateBPS)
	return fee, amount - fee
}

// PayoutFee returns the total fee on a payout request (fixed + rate,
// rate part rounded half-up) and the net transfer amount.
func PayoutFee(amount int64, fees config.Fees) (fee, net int64) {
	fee = fees.PayoutFixedFee + roundBPS(amount, fees.PayoutRateBPS)
	return fee, amount - fee
}

// DivideEvenly splits total across n recipients: each receives floor(total/n)
// and the remainder is returned to be carried forward, never discarded.
func DivideEvenly(total int64, n int) (perMember, remainder int64) {
	if n <= 0 || total <= 0 {
		return 0, total
	}
	perMember = total / int64(n)
	return perMember, total - perMember*int64(n)
}

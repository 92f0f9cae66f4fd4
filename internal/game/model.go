package game

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	CentsPerDollar = int64(100)

	DefaultStartingBalanceCents = int64(10_000) * CentsPerDollar
	DefaultMonthlyAwardCents    = int64(250) * CentsPerDollar
	DefaultYearAwardCents       = int64(5_000) * CentsPerDollar
)

var (
	ErrInvalidSymbol      = errors.New("symbol must be 1-5 uppercase letters")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("account already exists")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrTxConflict         = errors.New("too many transaction conflicts, try again")
)

var symbolRE = regexp.MustCompile(`^[A-Z]{1,5}$`)

func ValidateSymbol(symbol string) error {
	if !symbolRE.MatchString(strings.TrimSpace(symbol)) {
		return ErrInvalidSymbol
	}
	return nil
}

var hundred = decimal.NewFromInt(CentsPerDollar)

// CeilCents converts a decimal dollar amount to integer cents, rounding up.
// The round-up bias is applied to every currency amount in the game so that
// repeated operations never drift below whole cents.
func CeilCents(v decimal.Decimal) int64 {
	return v.Mul(hundred).Ceil().IntPart()
}

// CostCents prices a lot of shares at the given quote, rounded up to cents.
func CostCents(price decimal.Decimal, shares int64) int64 {
	return CeilCents(price.Mul(decimal.NewFromInt(shares)))
}

// NextAverageCost returns the share-weighted mean cost basis after buying
// into an existing holding, in cents rounded up.
func NextAverageCost(oldShares, oldAvgCents, buyShares, buyCostCents int64) int64 {
	totalShares := oldShares + buyShares
	if totalShares <= 0 {
		return 0
	}
	weighted := oldShares*oldAvgCents + buyCostCents
	return ceilDiv(weighted, totalShares)
}

func ceilDiv(num, den int64) int64 {
	if den <= 0 {
		return 0
	}
	return (num + den - 1) / den
}

// Dollars renders cents for logs and user-facing messages.
func Dollars(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/CentsPerDollar, cents%CentsPerDollar)
}

// PctGain is the percentage move from an opening price to the current one.
func PctGain(openCents, currentCents int64) float64 {
	if openCents <= 0 {
		return 0
	}
	return (float64(currentCents) - float64(openCents)) / float64(openCents) * 100
}

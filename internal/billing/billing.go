package billing

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Slab boundaries in billable kilograms. Slab 1 covers the first 10kg,
// slab 2 the next 100kg, slab 3 everything beyond that.
const (
	slab1Limit = 10
	slab2Limit = 100
)

// RowType classifies a billing row as a weighed parcel or a flat-rate document.
type RowType string

const (
	TypeParcel   RowType = "Parcel"
	TypeDocument RowType = "Document"
)

// Config holds the four rates used to price a manifest. Two instances exist
// at runtime: the global default and the per-manifest copy captured at save
// time.
type Config struct {
	Slab1Rate    decimal.Decimal `json:"slab1Rate"`
	Slab2Rate    decimal.Decimal `json:"slab2Rate"`
	Slab3Rate    decimal.Decimal `json:"slab3Rate"`
	DocumentRate decimal.Decimal `json:"documentRate"`
}

// DefaultConfig is the configuration used before the user has saved one.
func DefaultConfig() Config {
	return Config{
		Slab1Rate:    decimal.NewFromInt(0),
		Slab2Rate:    decimal.NewFromInt(0),
		Slab3Rate:    decimal.NewFromInt(0),
		DocumentRate: decimal.NewFromInt(0),
	}
}

// Row is one billable line of a manifest. Amount and Breakdown are derived
// from (Type, Weight, Rate, ManualRate) and the active Config; they are
// rewritten by ComputeRow on every mutation, never trusted from input.
type Row struct {
	ID          string          `json:"id"`
	SlNo        int             `json:"slNo"`
	SerialNo    string          `json:"serialNo"`
	Description string          `json:"description"`
	Type        RowType         `json:"type"`
	Weight      float64         `json:"weight"`
	Rate        decimal.Decimal `json:"rate"`
	ManualRate  bool            `json:"isManualRate"`
	Amount      decimal.Decimal `json:"amount"`
	Breakdown   string          `json:"breakdown"`
}

// ParcelCharge is the result of slabbing one parcel weight.
type ParcelCharge struct {
	Total       decimal.Decimal
	Breakdown   string
	Slab1Weight int64
	Slab2Weight int64
	Slab3Weight int64
}

// BillableWeight rounds a physical weight up to whole kilograms. A 5.01kg
// parcel bills as 6kg. Zero or negative weight bills as zero. The same
// rounding is used everywhere a charged weight appears so displayed and
// charged weights never drift apart.
func BillableWeight(weight float64) int64 {
	if weight <= 0 {
		return 0
	}
	return int64(math.Ceil(weight))
}

// ComputeParcel slabs a parcel weight against the config. Pure; degenerate
// input produces a zero charge with an empty breakdown.
func ComputeParcel(weight float64, cfg Config) ParcelCharge {
	billable := BillableWeight(weight)

	charge := ParcelCharge{Total: decimal.Zero}

	remaining := billable
	charge.Slab1Weight = min64(remaining, slab1Limit)
	remaining -= charge.Slab1Weight
	charge.Slab2Weight = min64(remaining, slab2Limit)
	remaining -= charge.Slab2Weight
	charge.Slab3Weight = remaining

	var terms []string
	for _, slab := range []struct {
		weight int64
		rate   decimal.Decimal
	}{
		{charge.Slab1Weight, cfg.Slab1Rate},
		{charge.Slab2Weight, cfg.Slab2Rate},
		{charge.Slab3Weight, cfg.Slab3Rate},
	} {
		// Zero-rate slabs contribute nothing and stay out of the breakdown.
		if slab.weight == 0 || slab.rate.IsZero() {
			continue
		}
		charge.Total = charge.Total.Add(slab.rate.Mul(decimal.NewFromInt(slab.weight)))
		terms = append(terms, fmt.Sprintf("%dkg*%s", slab.weight, slab.rate.String()))
	}

	if !charge.Total.IsZero() {
		charge.Breakdown = strings.Join(terms, " + ")
	}

	return charge
}

// ComputeRow re-derives a row's amount, breakdown and display rate from its
// inputs. Idempotent: feeding a derived row back in changes nothing.
// Switching a row's type preserves the manual flag and numeric rate but the
// amount and breakdown are always rederived for the new type.
func ComputeRow(row Row, cfg Config) Row {
	switch {
	case row.Type == TypeDocument && row.ManualRate:
		row.Amount = row.Rate
		row.Breakdown = fmt.Sprintf("Flat @ %s (manual)", row.Rate.String())
	case row.Type == TypeDocument:
		row.Rate = cfg.DocumentRate
		row.Amount = cfg.DocumentRate
		row.Breakdown = fmt.Sprintf("Flat @ %s", cfg.DocumentRate.String())
	case row.ManualRate:
		billable := BillableWeight(row.Weight)
		row.Amount = row.Rate.Mul(decimal.NewFromInt(billable))
		row.Breakdown = fmt.Sprintf("%dkg*%s (manual)", billable, row.Rate.String())
	default:
		charge := ComputeParcel(row.Weight, cfg)
		row.Amount = charge.Total
		row.Breakdown = charge.Breakdown
		// The stored rate on an automatic parcel row is display-only: the
		// effective per-kg rate, never fed back into the amount.
		if billable := BillableWeight(row.Weight); billable > 0 {
			row.Rate = charge.Total.Div(decimal.NewFromInt(billable))
		} else {
			row.Rate = cfg.Slab1Rate
		}
	}
	return row
}

// ComputeRows re-derives every row and renumbers the sequence.
func ComputeRows(rows []Row, cfg Config) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		row.SlNo = i + 1
		out[i] = ComputeRow(row, cfg)
	}
	return out
}

// Total sums the derived amounts of a row sequence.
func Total(rows []Row) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Amount)
	}
	return total
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

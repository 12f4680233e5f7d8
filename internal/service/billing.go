package service

import (
	"time"

	"rental-service/internal/models"
)

const day = 24 * time.Hour

// RentalDays counts started 24h periods, minimum one
func RentalDays(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 1
	}
	days := int(d / day)
	if d%day != 0 {
		days++
	}
	if days < 1 {
		days = 1
	}
	return days
}

// BasePricing is the price fixed at booking time
type BasePricing struct {
	RentalDays  int   `json:"rental_days"`
	BaseAmount  int64 `json:"base_amount"`
	KmAllowance int64 `json:"km_allowance"`
}

// PriceBooking prices a rental by daily rate, or by the flat package price when one is chosen.
// defaultDailyKm applies when the vehicle has no allowance of its own.
func PriceBooking(v *models.Vehicle, pkg *models.Package, start, end time.Time, defaultDailyKm int64) BasePricing {
	days := RentalDays(start, end)

	if pkg != nil {
		return BasePricing{RentalDays: days, BaseAmount: pkg.Price, KmAllowance: pkg.IncludedKm}
	}

	daily := v.DailyKmAllowance
	if daily <= 0 {
		daily = defaultDailyKm
	}
	return BasePricing{
		RentalDays:  days,
		BaseAmount:  v.DailyRate * int64(days),
		KmAllowance: daily * int64(days),
	}
}

// Mileage is the outcome of returning a vehicle
type Mileage struct {
	KmDriven         int64
	ExtraKm          int64
	ExtraMileageCost int64
}

// ComputeMileage charges every km beyond the allowance at extraKmRate
func ComputeMileage(odometerStart, odometerEnd, allowance, extraKmRate int64) Mileage {
	driven := odometerEnd - odometerStart
	if driven < 0 {
		driven = 0
	}
	extra := driven - allowance
	if extra < 0 {
		extra = 0
	}
	return Mileage{KmDriven: driven, ExtraKm: extra, ExtraMileageCost: extra * extraKmRate}
}

// Discount is either a fixed amount or a whole percentage of the subtotal
type Discount struct {
	Amount  int64
	Percent int64
}

// InvoiceTotals are the derived amounts of an invoice
type InvoiceTotals struct {
	Subtotal       int64 `json:"subtotal"`
	DiscountAmount int64 `json:"discount_amount"`
	TaxRateBPS     int64 `json:"tax_rate_bps"`
	TaxAmount      int64 `json:"tax_amount"`
	Total          int64 `json:"total"`
	AmountPaid     int64 `json:"amount_paid"`
	BalanceDue     int64 `json:"balance_due"`
}

// ComputeInvoice derives invoice totals; the discount is capped at the subtotal
// and the deposit credited is capped at the total.
func ComputeInvoice(baseAmount, extraMileageCost, additionalCharges int64, d Discount, taxRateBPS, deposit int64) InvoiceTotals {
	subtotal := baseAmount + extraMileageCost + additionalCharges

	discount := d.Amount
	if d.Percent > 0 {
		discount = divRoundHalfUp(subtotal*d.Percent, 100)
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}

	taxable := subtotal - discount
	tax := divRoundHalfUp(taxable*taxRateBPS, 10000)
	total := taxable + tax

	paid := deposit
	if paid > total {
		paid = total
	}
	if paid < 0 {
		paid = 0
	}

	return InvoiceTotals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxRateBPS:     taxRateBPS,
		TaxAmount:      tax,
		Total:          total,
		AmountPaid:     paid,
		BalanceDue:     total - paid,
	}
}

// divRoundHalfUp divides non-negative n by d rounding halves up
func divRoundHalfUp(n, d int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + d/2) / d
}

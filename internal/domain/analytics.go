package domain

import "time"

// StatusAggregate is the per-status rollup used by analytics.
type StatusAggregate struct {
	Status      DonationStatus
	Count       int64
	TotalAmount float64
	AvgAmount   float64
}

// MethodAggregate breaks successful donations down by payment method.
type MethodAggregate struct {
	Method      PaymentMethod
	Count       int64
	TotalAmount float64
}

// DailyAggregate is one day's worth of successful donations.
type DailyAggregate struct {
	Day         time.Time
	Count       int64
	TotalAmount float64
}

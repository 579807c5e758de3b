// Package deadline computes verification deadlines, urgency tiers and
// auto-approval eligibility. Every function is pure: the caller supplies now.
package deadline

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultDays         = 7
	DefaultMaxExtension = 168 * time.Hour

	warningWindow  = 24 * time.Hour
	criticalWindow = 4 * time.Hour
)

// Calculate returns start plus the given number of 24h days.
func Calculate(start time.Time, days int) time.Time {
	return start.Add(time.Duration(days) * 24 * time.Hour)
}

// Calendar is a set of non-working dates.
type Calendar map[string]struct{}

func NewCalendar(dates ...time.Time) Calendar {
	c := make(Calendar, len(dates))
	for _, d := range dates {
		c[d.Format(time.DateOnly)] = struct{}{}
	}
	return c
}

func (c Calendar) IsHoliday(t time.Time) bool {
	if c == nil {
		return false
	}
	_, ok := c[t.Format(time.DateOnly)]
	return ok
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// CalculateBusinessDays walks forward one calendar day at a time, skipping
// weekends and holidays, and keeps the time of day of start.
func CalculateBusinessDays(start time.Time, businessDays int, holidays Calendar) time.Time {
	t := start
	for counted := 0; counted < businessDays; {
		t = t.AddDate(0, 0, 1)
		if isWeekend(t) || holidays.IsHoliday(t) {
			continue
		}
		counted++
	}
	return t
}

type Remaining struct {
	Days              int   `json:"days"`
	Hours             int   `json:"hours"`
	Minutes           int   `json:"minutes"`
	Seconds           int   `json:"seconds"`
	TotalMilliseconds int64 `json:"total_milliseconds"`
	IsExpired         bool  `json:"is_expired"`
}

func TimeRemaining(deadline, now time.Time) Remaining {
	if !now.Before(deadline) {
		return Remaining{IsExpired: true}
	}
	d := deadline.Sub(now)
	return Remaining{
		Days:              int(d / (24 * time.Hour)),
		Hours:             int(d % (24 * time.Hour) / time.Hour),
		Minutes:           int(d % time.Hour / time.Minute),
		Seconds:           int(d % time.Minute / time.Second),
		TotalMilliseconds: d.Milliseconds(),
	}
}

type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyWarning  Urgency = "warning"
	UrgencyCritical Urgency = "critical"
	UrgencyExpired  Urgency = "expired"
)

type Status struct {
	Urgency        Urgency `json:"urgency"`
	HoursRemaining float64 `json:"hours_remaining"`
	IsCritical     bool    `json:"is_critical"`
}

func GetStatus(deadline, now time.Time) Status {
	left := deadline.Sub(now)
	var u Urgency
	switch {
	case left <= 0:
		u = UrgencyExpired
	case left <= criticalWindow:
		u = UrgencyCritical
	case left <= warningWindow:
		u = UrgencyWarning
	default:
		u = UrgencyNormal
	}
	hours := left.Hours()
	if hours < 0 {
		hours = 0
	}
	return Status{
		Urgency:        u,
		HoursRemaining: hours,
		IsCritical:     u == UrgencyExpired || u == UrgencyCritical,
	}
}

// ElapsedPercentage is clamped to [0,100].
func ElapsedPercentage(start, deadline, now time.Time) float64 {
	total := deadline.Sub(start)
	if total <= 0 {
		if now.Before(deadline) {
			return 0
		}
		return 100
	}
	pct := float64(now.Sub(start)) / float64(total) * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// Candidate is the subset of a batch that auto-approval looks at.
type Candidate struct {
	Deadline            time.Time
	AutoApprovalEnabled bool
	TotalAmount         decimal.Decimal
	TransactionCount    int
}

// Policy carries the auto-approval ceilings.
type Policy struct {
	MaxAmount       decimal.Decimal
	MaxTransactions int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAmount:       decimal.NewFromInt(100000),
		MaxTransactions: 1000,
	}
}

// IsEligibleForAutoApproval requires all of: deadline passed, auto-approval
// enabled, amount within ceiling, count within ceiling.
func (p Policy) IsEligibleForAutoApproval(c Candidate, now time.Time) bool {
	if now.Before(c.Deadline) {
		return false
	}
	if !c.AutoApprovalEnabled {
		return false
	}
	if c.TotalAmount.GreaterThan(p.MaxAmount) {
		return false
	}
	return c.TransactionCount <= p.MaxTransactions
}

type Extension struct {
	CanExtend   bool      `json:"can_extend"`
	Reason      string    `json:"reason,omitempty"`
	NewDeadline time.Time `json:"new_deadline,omitempty"`
}

const (
	ReasonExpired      = "cannot extend expired deadline"
	ReasonNonPositive  = "extension must be at least one hour"
	ReasonExceedsLimit = "extension exceeds maximum allowed"
)

func CanExtend(deadline time.Time, extensionHours int, maxExtension time.Duration, now time.Time) Extension {
	if maxExtension <= 0 {
		maxExtension = DefaultMaxExtension
	}
	if !now.Before(deadline) {
		return Extension{Reason: ReasonExpired}
	}
	if extensionHours <= 0 {
		return Extension{Reason: ReasonNonPositive}
	}
	ext := time.Duration(extensionHours) * time.Hour
	if ext > maxExtension {
		return Extension{Reason: ReasonExceedsLimit}
	}
	return Extension{CanExtend: true, NewDeadline: deadline.Add(ext)}
}

package deadline

import "time"

type NotificationType string

const (
	Notify48Hours      NotificationType = "48_hour_warning"
	Notify24Hours      NotificationType = "24_hour_warning"
	Notify4Hours       NotificationType = "4_hour_warning"
	Notify1Hour        NotificationType = "1_hour_warning"
	NotifyBatchCreated NotificationType = "batch_created"
)

var warningOffsets = []struct {
	kind   NotificationType
	before time.Duration
}{
	{Notify48Hours, 48 * time.Hour},
	{Notify24Hours, 24 * time.Hour},
	{Notify4Hours, 4 * time.Hour},
	{Notify1Hour, time.Hour},
}

type ScheduledNotification struct {
	Type        NotificationType `json:"type"`
	ScheduledAt time.Time        `json:"scheduled_at"`
}

// ScheduleNotifications returns the warnings for a deadline, earliest first.
func ScheduleNotifications(deadline time.Time) []ScheduledNotification {
	out := make([]ScheduledNotification, 0, len(warningOffsets))
	for _, o := range warningOffsets {
		out = append(out, ScheduledNotification{Type: o.kind, ScheduledAt: deadline.Add(-o.before)})
	}
	return out
}

// DueNotifications filters the schedule down to entries at or before now.
func DueNotifications(schedule []ScheduledNotification, now time.Time) []ScheduledNotification {
	var due []ScheduledNotification
	for _, n := range schedule {
		if !n.ScheduledAt.After(now) {
			due = append(due, n)
		}
	}
	return due
}

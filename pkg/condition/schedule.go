package condition

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/robfig/cron/v3"
)

// ErrUnknownSchedule is returned for a schedule this version cannot compute.
var ErrUnknownSchedule = errors.New("unknown schedule")

type monthlySchedule struct{}

// Next returns the same instant one calendar month later.
func (monthlySchedule) Next(t time.Time) time.Time {
	return t.AddDate(0, 1, 0)
}

// ScheduleFor returns the cron schedule driving a time based condition.
func ScheduleFor(tb *models.TimeBased) (cron.Schedule, error) {
	switch tb.Schedule {
	case models.ScheduleHourly:
		return cron.Every(time.Hour), nil
	case models.ScheduleDaily:
		return cron.Every(24 * time.Hour), nil
	case models.ScheduleWeekly:
		return cron.Every(7 * 24 * time.Hour), nil
	case models.ScheduleMonthly:
		return monthlySchedule{}, nil
	case models.ScheduleCron:
		schedule, err := cron.ParseStandard(tb.Expression)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", tb.Expression, err)
		}

		return schedule, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchedule, tb.Schedule)
	}
}

// NextFire returns when a time based condition next holds. A condition that never fired
// holds immediately, which is reported as the zero time.
func NextFire(tb *models.TimeBased) (time.Time, error) {
	schedule, err := ScheduleFor(tb)
	if err != nil {
		return time.Time{}, err
	}

	if tb.LastFired == nil {
		return time.Time{}, nil
	}

	return schedule.Next(*tb.LastFired), nil
}

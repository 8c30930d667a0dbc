package cutoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 15, 30, 0, 0, time.UTC)
}

func TestReferencePeriod(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want Period
	}{
		{"first day stays in current month", date(2026, time.March, 1), Period{time.March, 2026}},
		{"day 9 stays in current month", date(2026, time.March, 9), Period{time.March, 2026}},
		{"day 10 moves to next month", date(2026, time.March, 10), Period{time.April, 2026}},
		{"last day moves to next month", date(2026, time.January, 31), Period{time.February, 2026}},
		{"december 9 stays in december", date(2026, time.December, 9), Period{time.December, 2026}},
		{"december 10 rolls to january", date(2026, time.December, 10), Period{time.January, 2027}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReferencePeriod(tt.now))
		})
	}
}

func TestReferencePeriod_AllDays(t *testing.T) {
	for month := time.January; month <= time.December; month++ {
		last := time.Date(2026, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
		for day := 1; day <= last; day++ {
			got := ReferencePeriod(date(2026, month, day))
			if day <= Day {
				assert.Equal(t, Period{month, 2026}, got, "%s %d", month, day)
				continue
			}
			if month == time.December {
				assert.Equal(t, Period{time.January, 2027}, got, "%s %d", month, day)
			} else {
				assert.Equal(t, Period{month + 1, 2026}, got, "%s %d", month, day)
			}
		}
	}
}

func TestPeriod_Range(t *testing.T) {
	p := Period{Month: time.December, Year: 2026}

	assert.Equal(t, time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC), p.Start())
	assert.Equal(t, time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC), p.End())
	assert.Equal(t, "12/2026", p.String())
}

func TestFirstDueDate(t *testing.T) {
	t.Run("normalizes to first day", func(t *testing.T) {
		got := FirstDueDate(date(2026, time.February, 5))
		assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("day 31 never leaks into the schedule", func(t *testing.T) {
		got := FirstDueDate(date(2026, time.January, 31))
		assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), got)
	})

	t.Run("december after cutoff", func(t *testing.T) {
		got := FirstDueDate(date(2026, time.December, 10))
		assert.Equal(t, time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC), got)
	})
}

func TestSchedule(t *testing.T) {
	t.Run("three months from march", func(t *testing.T) {
		first := Period{Month: time.March, Year: 2026}.Start()
		dates := Schedule(first, 3)

		require.Len(t, dates, 3)
		assert.Equal(t, "2026-03-01", dates[0].Format("2006-01-02"))
		assert.Equal(t, "2026-04-01", dates[1].Format("2006-01-02"))
		assert.Equal(t, "2026-05-01", dates[2].Format("2006-01-02"))
	})

	t.Run("crosses year boundary", func(t *testing.T) {
		dates := Schedule(time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC), 4)

		require.Len(t, dates, 4)
		assert.Equal(t, "2027-02-01", dates[3].Format("2006-01-02"))
	})

	t.Run("non first day input is normalized", func(t *testing.T) {
		dates := Schedule(time.Date(2026, time.January, 31, 12, 0, 0, 0, time.UTC), 2)

		assert.Equal(t, "2026-01-01", dates[0].Format("2006-01-02"))
		assert.Equal(t, "2026-02-01", dates[1].Format("2006-01-02"))
	})

	t.Run("zero quantity", func(t *testing.T) {
		assert.Empty(t, Schedule(time.Now(), 0))
	})
}

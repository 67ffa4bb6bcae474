package producer

import "time"

// Sample is one throughput measurement window.
type Sample struct {
	Records int64
	Elapsed time.Duration
	Rate    float64 // records per second
}

// Meter counts records and cuts a Sample each time the interval has elapsed.
// A Meter is owned by a single worker and is not safe for concurrent use.
type Meter struct {
	interval time.Duration
	start    time.Time
	count    int64
}

// NewMeter starts the first window at start.
func NewMeter(start time.Time, interval time.Duration) *Meter {
	return &Meter{interval: interval, start: start}
}

// Observe counts one record. When at least one interval has passed since the window
// started, it returns the window's sample and starts a new window at now.
func (m *Meter) Observe(now time.Time) (Sample, bool) {
	m.count++
	if now.Sub(m.start) < m.interval {
		return Sample{}, false
	}
	return m.cut(now), true
}

// Flush returns the partial window, if it counted anything.
func (m *Meter) Flush(now time.Time) (Sample, bool) {
	if m.count == 0 {
		return Sample{}, false
	}
	return m.cut(now), true
}

func (m *Meter) cut(now time.Time) Sample {
	s := Sample{Records: m.count, Elapsed: now.Sub(m.start)}
	if s.Elapsed > 0 {
		s.Rate = float64(s.Records) / s.Elapsed.Seconds()
	}
	m.start = now
	m.count = 0
	return s
}

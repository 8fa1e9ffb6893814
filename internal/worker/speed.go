package worker

import "time"

type speedSample struct {
	at    time.Time
	bytes uint64
}

// speedometer estimates the transfer speed from a fixed-size ring buffer of
// (time, cumulative bytes) samples covering at most samples*interval.
type speedometer struct {
	ring   []speedSample
	start  int
	count  int
	window time.Duration
	now    func() time.Time
}

func newSpeedometer(samples int, interval time.Duration) *speedometer {
	return &speedometer{
		ring:   make([]speedSample, samples),
		window: time.Duration(samples) * interval,
		now:    time.Now,
	}
}

func (s *speedometer) reset() {
	s.start, s.count = 0, 0
}

func (s *speedometer) at(i int) speedSample {
	return s.ring[(s.start+i)%len(s.ring)]
}

// add records the cumulative byte count and returns the speed in bytes per
// second over the samples still inside the window.
func (s *speedometer) add(bytes uint64) uint64 {
	now := s.now()

	if s.count > 0 && bytes < s.at(s.count-1).bytes {
		s.reset()
	}

	if s.count == len(s.ring) {
		s.start = (s.start + 1) % len(s.ring)
		s.count--
	}
	s.ring[(s.start+s.count)%len(s.ring)] = speedSample{at: now, bytes: bytes}
	s.count++

	cutoff := now.Add(-s.window)
	for s.count > 1 && s.at(0).at.Before(cutoff) {
		s.start = (s.start + 1) % len(s.ring)
		s.count--
	}

	first, last := s.at(0), s.at(s.count-1)

	elapsed := last.at.Sub(first.at)
	if elapsed <= 0 {
		return 0
	}

	return uint64(float64(last.bytes-first.bytes) / elapsed.Seconds())
}

package tracker

import "time"

// responseWindowSize is the number of recent completions the rolling
// average covers.
const responseWindowSize = 1000

// responseWindow is a fixed-size ring buffer of response durations. Callers
// synchronise access; the tracker holds its mutex around Add and Average.
type responseWindow struct {
	samples []int64
	next    int
	filled  int
}

func newResponseWindow(size int) *responseWindow {
	if size <= 0 {
		size = responseWindowSize
	}
	return &responseWindow{samples: make([]int64, size)}
}

func (rw *responseWindow) Add(d time.Duration) {
	rw.samples[rw.next] = int64(d)
	rw.next = (rw.next + 1) % len(rw.samples)
	if rw.filled < len(rw.samples) {
		rw.filled++
	}
}

func (rw *responseWindow) Average() time.Duration {
	if rw.filled == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < rw.filled; i++ {
		sum += rw.samples[i]
	}
	return time.Duration(sum / int64(rw.filled))
}

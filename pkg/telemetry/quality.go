package telemetry

import (
	"sync"

	"github.com/robotalks/crsflink/pkg/crsf"
)

// DefaultQualityWindow is the number of sends the link quality is computed
// over.
const DefaultQualityWindow = 100

// LinkQuality tracks the outcome of recent wireless sends and reports it as
// link statistics.
type LinkQuality struct {
	// RFMode is reported as is in link statistics.
	RFMode byte
	// TXPower is reported as is in link statistics.
	TXPower byte

	lock    sync.Mutex
	results []bool
	next    int
	filled  int
	good    int
}

// NewLinkQuality creates a LinkQuality over window sends.
func NewLinkQuality(window int) *LinkQuality {
	if window <= 0 {
		window = DefaultQualityWindow
	}
	return &LinkQuality{results: make([]bool, window)}
}

// Record records the outcome of one send.
func (q *LinkQuality) Record(ok bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.filled == len(q.results) {
		if q.results[q.next] {
			q.good--
		}
	} else {
		q.filled++
	}
	q.results[q.next] = ok
	if ok {
		q.good++
	}
	q.next = (q.next + 1) % len(q.results)
}

// Percent returns the share of successful sends, 0..100.
func (q *LinkQuality) Percent() byte {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.filled == 0 {
		return 0
	}
	return byte(q.good * 100 / q.filled)
}

// Reset forgets all recorded sends.
func (q *LinkQuality) Reset() {
	q.lock.Lock()
	q.next, q.filled, q.good = 0, 0, 0
	q.lock.Unlock()
}

// LinkStatistics reports the delivery ratio as uplink LQ.
func (q *LinkQuality) LinkStatistics() crsf.LinkStatistics {
	lq := q.Percent()
	return crsf.LinkStatistics{
		UplinkLQ:      lq,
		DownlinkLQ:    lq,
		RFMode:        q.RFMode,
		UplinkTXPower: q.TXPower,
	}
}

package handset

import (
	"io"
	"time"

	"github.com/robotalks/crsflink/pkg/crsf"
)

// Port is the serial connection to the handset. Read must return promptly,
// with zero bytes or a timeout error, when no data is available.
type Port interface {
	io.Reader
	io.Writer
}

// BaudSetter is implemented by ports able to change the baud rate.
type BaudSetter interface {
	SetBaudRate(baud int) error
}

// Flusher is implemented by ports able to discard pending input.
type Flusher interface {
	Flush() error
}

// Duplex switches a half-duplex line between transmitting and receiving.
type Duplex interface {
	SetTX() error
	SetRX() error
}

// Synchronizer receives RC frame arrivals and provides the mixer timing
// reported back to the handset.
type Synchronizer interface {
	RecordArrival(time.Time) time.Duration
	HandsetSync() (rate, offset int32)
}

// LinkStatsSource provides the link statistics reported to the handset.
type LinkStatsSource interface {
	LinkStatistics() crsf.LinkStatistics
}

// ParameterHandler receives parameter read/write frames addressed to the
// module. Replies go through Handset.Enqueue.
type ParameterHandler interface {
	ParameterCount() byte
	HandleParameter(crsf.Frame)
}

// Listener is notified about handset events. Methods are invoked from the
// goroutine calling HandleInput.
type Listener interface {
	LinkUp()
	LinkDown()
	ModelSelected(id uint8)
	BindRequested()
}

// ListenerFuncs adapts funcs to Listener. Nil funcs are skipped.
type ListenerFuncs struct {
	OnLinkUp        func()
	OnLinkDown      func()
	OnModelSelected func(uint8)
	OnBind          func()
}

// LinkUp implements Listener.
func (l *ListenerFuncs) LinkUp() {
	if l.OnLinkUp != nil {
		l.OnLinkUp()
	}
}

// LinkDown implements Listener.
func (l *ListenerFuncs) LinkDown() {
	if l.OnLinkDown != nil {
		l.OnLinkDown()
	}
}

// ModelSelected implements Listener.
func (l *ListenerFuncs) ModelSelected(id uint8) {
	if l.OnModelSelected != nil {
		l.OnModelSelected(id)
	}
}

// BindRequested implements Listener.
func (l *ListenerFuncs) BindRequested() {
	if l.OnBind != nil {
		l.OnBind()
	}
}

// Stats are the link counters.
type Stats struct {
	// Good and Bad count frames in the last complete watchdog window.
	Good uint32
	Bad  uint32

	TotalGood    uint64
	TotalBad     uint64
	BaudSwitches uint64
	Baud         int
	Connected    bool
	LastRC       time.Time
	QueueDropped uint64
}

// Package serial opens the UART connected to the handset.
package serial

import (
	"errors"
	"time"
)

// Errors.
var (
	ErrClosed      = errors.New("serial: port closed")
	ErrUnsupported = errors.New("serial: not supported")
	// ErrTimeout is returned by Read when no data arrives in time. It
	// satisfies os.IsTimeout.
	ErrTimeout error = timeoutError{}
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "serial: read timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// DefaultReadTimeout keeps reads short enough for the polling loop.
const DefaultReadTimeout = time.Millisecond

// Config configures a serial port. The line is always raw 8N1.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

func (c *Config) setDefaults() error {
	if c.Device == "" {
		return errors.New("serial: device path required")
	}
	if c.Baud <= 0 {
		return errors.New("serial: baud rate required")
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return nil
}

// RTSControl is implemented by ports driving the RTS line.
type RTSControl interface {
	SetRTS(on bool) error
}

// Drainer is implemented by ports able to wait for pending output.
type Drainer interface {
	Drain() error
}

// RTSDuplex switches a half-duplex transceiver with the RTS line. Before
// returning to receive, pending output is drained when the port supports
// it, so the last bytes are not cut off.
type RTSDuplex struct {
	Port RTSControl
	// TXHigh selects the RTS level for transmit.
	TXHigh bool
}

// SetTX switches to transmit.
func (d *RTSDuplex) SetTX() error {
	return d.Port.SetRTS(d.TXHigh)
}

// SetRX switches to receive.
func (d *RTSDuplex) SetRX() error {
	if drainer, ok := d.Port.(Drainer); ok {
		if err := drainer.Drain(); err != nil {
			return err
		}
	}
	return d.Port.SetRTS(!d.TXHigh)
}

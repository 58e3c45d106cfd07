//go:build !linux || ppc64 || ppc64le

package serial

import (
	"io"
	"sync"

	"github.com/golang/glog"
	"github.com/tarm/serial"
)

// Port is a serial port opened through the portable driver. Changing the
// baud rate reopens the device.
type Port struct {
	lock   sync.Mutex
	port   *serial.Port
	cfg    Config
	closed bool
}

// Open opens and configures the port.
func Open(cfg Config) (*Port, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	p := &Port{cfg: cfg}
	if err := p.open(cfg.Baud); err != nil {
		return nil, err
	}
	glog.Infof("opened %s at %d baud", cfg.Device, cfg.Baud)
	return p, nil
}

func (p *Port) open(baud int) error {
	port, err := serial.OpenPort(&serial.Config{
		Name:        p.cfg.Device,
		Baud:        baud,
		ReadTimeout: p.cfg.ReadTimeout,
	})
	if err != nil {
		return err
	}
	p.port = port
	return nil
}

func (p *Port) current() (*serial.Port, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	return p.port, nil
}

// Read implements io.Reader. It returns ErrTimeout when no data arrives.
func (p *Port) Read(buf []byte) (int, error) {
	port, err := p.current()
	if err != nil {
		return 0, err
	}
	n, err := port.Read(buf)
	if n == 0 && (err == nil || err == io.EOF) {
		return 0, ErrTimeout
	}
	return n, err
}

// Write implements io.Writer.
func (p *Port) Write(buf []byte) (int, error) {
	port, err := p.current()
	if err != nil {
		return 0, err
	}
	return port.Write(buf)
}

// SetBaudRate reopens the port at a new baud rate.
func (p *Port) SetBaudRate(baud int) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.port.Close()
	if err := p.open(baud); err != nil {
		p.closed = true
		return err
	}
	p.cfg.Baud = baud
	return nil
}

// Baud returns the current baud rate.
func (p *Port) Baud() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.cfg.Baud
}

// Flush discards pending input and output.
func (p *Port) Flush() error {
	port, err := p.current()
	if err != nil {
		return err
	}
	return port.Flush()
}

// SetRTS is not supported by the portable driver.
func (p *Port) SetRTS(bool) error {
	return ErrUnsupported
}

// Close closes the port.
func (p *Port) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.port.Close()
}

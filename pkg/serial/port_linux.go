//go:build linux && !ppc64 && !ppc64le

package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"
)

// Port is a raw serial port. The baud rate is set with BOTHER, so the
// non-standard CRSF rates like 400000 and 5250000 work.
type Port struct {
	lock    sync.Mutex
	fd      int
	cfg     Config
	closed  bool
	termios *unix.Termios
}

// Open opens and configures the port.
func Open(cfg Config) (*Port, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	p := &Port{fd: fd, cfg: cfg}
	if p.termios, err = unix.IoctlGetTermios(fd, unix.TCGETS2); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}
	if err := p.configure(cfg.Baud); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set blocking: %w", err)
	}
	glog.Infof("opened %s at %d baud", cfg.Device, cfg.Baud)
	return p, nil
}

func (p *Port) configure(baud int) error {
	t := *p.termios
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | unix.BOTHER
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS2, &t); err != nil {
		return fmt.Errorf("serial: set %d baud: %w", baud, err)
	}
	return nil
}

func (p *Port) getFd() (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return -1, ErrClosed
	}
	return p.fd, nil
}

// Read implements io.Reader. It waits at most ReadTimeout for data and
// returns ErrTimeout if nothing arrives.
func (p *Port) Read(buf []byte) (int, error) {
	fd, err := p.getFd()
	if err != nil {
		return 0, err
	}
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(p.cfg.ReadTimeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("serial: poll: %w", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return 0, io.EOF
	}
	n, err = unix.Read(fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	return n, nil
}

// Write implements io.Writer.
func (p *Port) Write(buf []byte) (int, error) {
	fd, err := p.getFd()
	if err != nil {
		return 0, err
	}
	var written int
	for written < len(buf) {
		n, err := unix.Write(fd, buf[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return written, fmt.Errorf("serial: write: %w", err)
		}
		written += n
	}
	return written, nil
}

// SetBaudRate changes the baud rate.
func (p *Port) SetBaudRate(baud int) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.configure(baud); err != nil {
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
	fd, err := p.getFd()
	if err != nil {
		return err
	}
	return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)
}

// Drain waits until all output is transmitted.
func (p *Port) Drain() error {
	fd, err := p.getFd()
	if err != nil {
		return err
	}
	// TCSBRK with a non-zero argument is tcdrain
	return unix.IoctlSetInt(fd, unix.TCSBRK, 1)
}

// SetRTS sets the RTS line.
func (p *Port) SetRTS(on bool) error {
	fd, err := p.getFd()
	if err != nil {
		return err
	}
	status, err := unix.IoctlGetInt(fd, unix.TIOCMGET)
	if err != nil {
		return err
	}
	if on {
		status |= unix.TIOCM_RTS
	} else {
		status &^= unix.TIOCM_RTS
	}
	return unix.IoctlSetPointerInt(fd, unix.TIOCMSET, status)
}

// Close restores the original settings and closes the port.
func (p *Port) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	unix.IoctlSetTermios(p.fd, unix.TCSETS2, p.termios)
	return unix.Close(p.fd)
}

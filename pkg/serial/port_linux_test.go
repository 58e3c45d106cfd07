//go:build linux && !ppc64 && !ppc64le

package serial

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// openPTY returns the master side and the slave path of a new pty.
func openPTY(t *testing.T) (*os.File, string) {
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR, 0)
	if err != nil {
		t.Skipf("pty not available: %v", err)
	}
	fd := int(master.Fd())
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		master.Close()
		t.Skipf("unlock pty: %v", err)
	}
	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		master.Close()
		t.Skipf("pty number: %v", err)
	}
	return master, fmt.Sprintf("/dev/pts/%d", n)
}

func TestPortReadWrite(t *testing.T) {
	master, name := openPTY(t)
	defer master.Close()

	port, err := Open(Config{Device: name, Baud: 400000, ReadTimeout: 10 * time.Millisecond})
	require.NoError(t, err)
	defer port.Close()
	require.Equal(t, 400000, port.Baud())

	buf := make([]byte, 64)
	_, err = port.Read(buf)
	require.True(t, os.IsTimeout(err))

	_, err = master.Write([]byte{0xc8, 0x18, 0x16})
	require.NoError(t, err)
	var got []byte
	deadline := time.Now().Add(time.Second)
	for len(got) < 3 && time.Now().Before(deadline) {
		n, err := port.Read(buf)
		if err != nil && !os.IsTimeout(err) {
			require.NoError(t, err)
		}
		got = append(got, buf[:n]...)
	}
	require.Equal(t, []byte{0xc8, 0x18, 0x16}, got)

	n, err := port.Write([]byte{0xee, 0x04})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = master.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0xee, 0x04}, buf[:n])

	require.NoError(t, port.SetBaudRate(5250000))
	require.Equal(t, 5250000, port.Baud())
	require.NoError(t, port.Flush())

	require.NoError(t, port.Close())
	require.NoError(t, port.Close())
	_, err = port.Read(buf)
	require.Equal(t, ErrClosed, err)
	require.Equal(t, ErrClosed, port.SetBaudRate(115200))
}

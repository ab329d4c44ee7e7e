//go:build linux || android

package dialer

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// interfaceBindSupported is true: Linux and Android bind via SO_BINDTODEVICE.
const interfaceBindSupported = true

// buildControl returns a net.Dialer.Control func that binds the outbound
// socket to opts.Interface via SO_BINDTODEVICE, or nil if no interface was
// requested.
func buildControl(opts Options) func(network, address string, c syscall.RawConn) error {
	if opts.Interface == "" {
		return nil
	}
	iface := opts.Interface
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.BindToDevice(int(fd), iface)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}

//go:build !linux && !android

package dialer

import "syscall"

// interfaceBindSupported is false on platforms without a cheap socket-level
// interface-binding primitive wired into this module.
const interfaceBindSupported = false

// buildControl is a no-op on platforms without interface binding wired in;
// Options.Interface is validated separately in Dialer.Dial.
func buildControl(opts Options) func(network, address string, c syscall.RawConn) error {
	return nil
}

//go:build !unix

package transport

import "syscall"

// Address reuse is only wired up on unix platforms.
func reuseAddrControl(_, _ string, _ syscall.RawConn) error {
	return nil
}

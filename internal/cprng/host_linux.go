//go:build linux
// +build linux

package cprng

import "golang.org/x/sys/unix"

// hostRandom fills buf from the kernel's getrandom(2). Short reads are
// retried; getrandom only short-reads across signal delivery.
func hostRandom(buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Getrandom(buf, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

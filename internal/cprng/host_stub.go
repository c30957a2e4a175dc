//go:build !linux
// +build !linux

package cprng

import "crypto/rand"

// hostRandom fills buf from crypto/rand on platforms without getrandom.
func hostRandom(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

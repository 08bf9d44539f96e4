//go:build !linux
// +build !linux

package sgx

import "errors"

// IsAvailable reports whether DCAP quote generation is available.
func IsAvailable() bool {
	return false
}

// GenerateQuote generates an SGX quote for the given user data.
// User Data may not be longer than 64 bytes.
func GenerateQuote(_ []byte) ([]byte, error) {
	return nil, errors.New("generating quote is only supported on linux")
}

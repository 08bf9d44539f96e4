//go:build linux
// +build linux

// Package sgx provides functionality to generate SGX quotes inside a Gramine enclave.
package sgx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// AttestationDir is the Gramine pseudo-filesystem for SGX attestation.
	AttestationDir = "/dev/attestation"

	// attestationTypeFile reports the attestation flavor Gramine was configured with.
	attestationTypeFile = "attestation_type"
	// userReportDataFile accepts the 64 byte report data to embed in the quote.
	userReportDataFile = "user_report_data"
	// quoteFile holds the quote for the previously written report data.
	quoteFile = "quote"

	// dcapAttestationType is the attestation type required for quotes verifiable by this module.
	dcapAttestationType = "dcap"

	reportDataSize = 64
)

// IsAvailable reports whether DCAP quote generation is available,
// i.e. the process runs inside a Gramine enclave configured for DCAP attestation.
func IsAvailable() bool {
	attestationType, err := os.ReadFile(filepath.Join(AttestationDir, attestationTypeFile))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(attestationType)) == dcapAttestationType
}

// GenerateQuote generates an SGX quote for the given user data.
// User Data may not be longer than 64 bytes.
func GenerateQuote(userData []byte) ([]byte, error) {
	if len(userData) > reportDataSize {
		return nil, fmt.Errorf("user data must not be longer than %d bytes, received %d bytes", reportDataSize, len(userData))
	}

	if !IsAvailable() {
		return nil, fmt.Errorf("DCAP attestation is not available: %q does not report attestation type %q", filepath.Join(AttestationDir, attestationTypeFile), dcapAttestationType)
	}

	// Gramine requires exactly 64 bytes of report data. Shorter input is zero padded.
	var reportData [reportDataSize]byte
	copy(reportData[:], userData)
	if err := os.WriteFile(filepath.Join(AttestationDir, userReportDataFile), reportData[:], 0o600); err != nil {
		return nil, fmt.Errorf("writing user report data: %w", err)
	}

	quote, err := os.ReadFile(filepath.Join(AttestationDir, quoteFile))
	if err != nil {
		return nil, fmt.Errorf("reading quote: %w", err)
	}

	return quote, nil
}

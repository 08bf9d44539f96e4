// Package status defines the TCB status levels reported by Intel's PCS and the rules to combine them.
package status

import (
	"encoding/json"
	"fmt"
)

// TCBStatus is the Trusted Computing Base (TCB) status of an SGX platform or enclave.
// The set of valid values is fixed by Intel's PCS API; see the constants below.
type TCBStatus string

const (
	// UpToDate means all TCB components are on the latest security version.
	UpToDate TCBStatus = "UpToDate"

	// OutOfDate means at least one TCB component is below the latest security version.
	OutOfDate TCBStatus = "OutOfDate"

	// ConfigurationNeeded means the platform is up to date but needs additional configuration.
	ConfigurationNeeded TCBStatus = "ConfigurationNeeded"

	// SWHardeningNeeded means the platform is up to date but relies on software mitigations.
	SWHardeningNeeded TCBStatus = "SWHardeningNeeded"

	// ConfigurationAndSWHardeningNeeded combines ConfigurationNeeded and SWHardeningNeeded.
	ConfigurationAndSWHardeningNeeded TCBStatus = "ConfigurationAndSWHardeningNeeded"

	// OutOfDateConfigurationNeeded means the platform is out of date and needs additional configuration.
	OutOfDateConfigurationNeeded TCBStatus = "OutOfDateConfigurationNeeded"

	// Revoked means the TCB level was revoked, e.g. because of a key compromise.
	Revoked TCBStatus = "Revoked"

	// Unknown is reported when a TCB level cannot be matched against Intel's reference data.
	Unknown TCBStatus = "Unknown"
)

// statusCodes maps each TCB status to the single byte value used in serialized verification results.
// The mapping is part of the output format and must not be reordered.
var statusCodes = map[TCBStatus]uint8{
	UpToDate:                          0,
	OutOfDate:                         1,
	ConfigurationNeeded:               2,
	SWHardeningNeeded:                 3,
	ConfigurationAndSWHardeningNeeded: 4,
	OutOfDateConfigurationNeeded:      5,
	Revoked:                           6,
	Unknown:                           7,
}

// Code returns the status as a single byte for serialized verification results.
func (s TCBStatus) Code() uint8 {
	if code, ok := statusCodes[s]; ok {
		return code
	}
	return statusCodes[Unknown]
}

// IsValid reports whether s is one of the statuses defined by Intel's PCS API.
func (s TCBStatus) IsValid() bool {
	_, ok := statusCodes[s]
	return ok
}

// UnmarshalJSON parses a TCB status from its PCS JSON string representation.
func (s *TCBStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshaling TCB status: %w", err)
	}

	status := TCBStatus(raw)
	if !status.IsValid() {
		return fmt.Errorf("unknown TCB status %q", raw)
	}
	*s = status
	return nil
}

// ConvergeTCBStatus combines the TCB status of the Quoting Enclave (QE) with the
// platform TCB status into the final status of a verified quote.
//
// An out of date QE downgrades the platform status: a platform that is otherwise
// fine becomes OutOfDate, a platform needing configuration becomes
// OutOfDateConfigurationNeeded. A platform status that is already worse than, or
// unrelated to, these two cases is passed through unchanged, as is everything
// when the QE is not out of date. Note that this intentionally does not force a
// worse result for other non-UpToDate QE statuses (e.g. Revoked); this matches
// the reference verification flow in Intel's QVL.
func ConvergeTCBStatus(qeStatus, platformStatus TCBStatus) TCBStatus {
	if qeStatus != OutOfDate {
		return platformStatus
	}

	switch platformStatus {
	case UpToDate, SWHardeningNeeded:
		return OutOfDate
	case ConfigurationNeeded, ConfigurationAndSWHardeningNeeded:
		return OutOfDateConfigurationNeeded
	default:
		return platformStatus
	}
}

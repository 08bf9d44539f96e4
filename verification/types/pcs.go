package types

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgelesssys/go-sgx-qvl/verification/status"
)

const (
	// TCBInfoSGXID indicates that the TCB Info is for an SGX platform.
	TCBInfoSGXID = "SGX"

	// CPUSVNByteLen is the length of a CPU Security Version Number (SVN) in bytes.
	CPUSVNByteLen = 16

	// QEIdentityVersion is the pinned version of the QE Identity information returned by the PCS.
	QEIdentityVersion = 2

	// QEIdentitySGXID indicates that the QE Identity is for the SGX Quoting Enclave.
	QEIdentitySGXID = "QE"

	// PlatformIssuer is the CA issuer for multi platform PCK certificates.
	PlatformIssuer = "Intel SGX PCK Platform CA"

	// ProcessorIssuer is the CA issuer for single platform PCK certificates.
	ProcessorIssuer = "Intel SGX PCK Processor CA"
)

// TCBInfo contains expected Trusted Computing Base (TCB) information for an SGX platform.
type TCBInfo struct {
	ID                      string     `json:"id"`
	Version                 uint32     `json:"version"`
	IssueDate               time.Time  `json:"issueDate"`
	NextUpdate              time.Time  `json:"nextUpdate"`
	FMSPC                   [6]byte    `json:"fmspc"`
	PCEID                   [2]byte    `json:"pceid"`
	TCBType                 int        `json:"tcbType"`
	TCBEvaluationDataNumber uint32     `json:"tcbEvaluationDataNumber"`
	TCBLevels               []TCBLevel `json:"tcbLevels"`
}

// UnmarshalJSON parses a JSON representation of the TCB Info into a TCBInfo.
func (t *TCBInfo) UnmarshalJSON(data []byte) error {
	var tcbInfoJSON tcbInfoJSON
	if err := json.Unmarshal(data, &tcbInfoJSON); err != nil {
		return fmt.Errorf("unmarshaling TCB Info JSON: %w", err)
	}
	var err error

	t.ID = tcbInfoJSON.ID
	t.Version = tcbInfoJSON.Version

	t.IssueDate, err = time.Parse(time.RFC3339, tcbInfoJSON.IssueDate)
	if err != nil {
		return fmt.Errorf("parsing TCBInfo issue date: %w", err)
	}
	t.NextUpdate, err = time.Parse(time.RFC3339, tcbInfoJSON.NextUpdate)
	if err != nil {
		return fmt.Errorf("parsing TCBInfo next update date: %w", err)
	}

	fmspc, err := decodeHexToByte(tcbInfoJSON.FMSPC, 6)
	if err != nil {
		return fmt.Errorf("decoding FMSPC: %w", err)
	}
	t.FMSPC = [6]byte(fmspc)

	pceid, err := decodeHexToByte(tcbInfoJSON.PCEID, 2)
	if err != nil {
		return fmt.Errorf("decoding PCEID: %w", err)
	}
	t.PCEID = [2]byte(pceid)

	t.TCBType = tcbInfoJSON.TCBType
	t.TCBEvaluationDataNumber = tcbInfoJSON.TCBEvaluationDataNumber
	t.TCBLevels = tcbInfoJSON.TCBLevels

	return nil
}

// TCBStatus returns the TCB status for a platform with the given CPUSVN and PCESVN,
// as reported by the PCK certificate of that platform.
// The TCB levels are expected in the order returned by the PCS: descending,
// newest level first. The status of the first level the platform satisfies is
// returned. A platform below all known levels is reported as Unknown.
func (t *TCBInfo) TCBStatus(cpuSVN [CPUSVNByteLen]byte, pceSVN uint16) status.TCBStatus {
	for _, tcbLevel := range t.TCBLevels {
		if tcbLevel.satisfiedBy(cpuSVN, pceSVN) {
			return tcbLevel.TCBStatus
		}
	}
	return status.Unknown
}

// tcbInfoJSON contains expected Trusted Computing Base (TCB) information for an SGX platform.
// This is the JSON representation of the TCB Info using basic strings and ints.
type tcbInfoJSON struct {
	ID                      string     `json:"id"`
	Version                 uint32     `json:"version"`
	IssueDate               string     `json:"issueDate"`
	NextUpdate              string     `json:"nextUpdate"`
	FMSPC                   string     `json:"fmspc"`
	PCEID                   string     `json:"pceid"`
	TCBType                 int        `json:"tcbType"`
	TCBEvaluationDataNumber uint32     `json:"tcbEvaluationDataNumber"`
	TCBLevels               []TCBLevel `json:"tcbLevels"`
}

// QEIdentity contains the expected information of the SGX Quoting Enclave (QE).
type QEIdentity struct {
	ID                      string     `json:"id"`
	Version                 uint32     `json:"version"`
	IssueDate               time.Time  `json:"issueDate"`
	NextUpdate              time.Time  `json:"nextUpdate"`
	TCBEvaluationDataNumber uint32     `json:"tcbEvaluationDataNumber"`
	MiscSelect              uint32     `json:"miscselect"`
	MiscSelectMask          uint32     `json:"miscselectMask"`
	Attributes              [16]byte   `json:"attributes"`
	AttributesMask          [16]byte   `json:"attributesMask"`
	MRSIGNER                [32]byte   `json:"mrSigner"`
	ISVProdID               uint16     `json:"isvprodid"`
	TCBLevels               []TCBLevel `json:"tcbLevels"`
}

// UnmarshalJSON parses a JSON representation of the QE Identity into a QEIdentity.
func (q *QEIdentity) UnmarshalJSON(data []byte) error {
	var qeIdentity qeIdentityJSON
	if err := json.Unmarshal(data, &qeIdentity); err != nil {
		return fmt.Errorf("unmarshaling QE Identity JSON: %w", err)
	}

	var err error
	q.ID = qeIdentity.ID
	q.Version = qeIdentity.Version
	q.IssueDate, err = time.Parse(time.RFC3339, qeIdentity.IssueDate)
	if err != nil {
		return fmt.Errorf("parsing QEIdentity issue date: %w", err)
	}
	q.NextUpdate, err = time.Parse(time.RFC3339, qeIdentity.NextUpdate)
	if err != nil {
		return fmt.Errorf("parsing QEIdentity next update date: %w", err)
	}
	q.TCBEvaluationDataNumber = qeIdentity.TCBEvaluationDataNumber

	miscSelect, err := decodeHexToByte(qeIdentity.MiscSelect, 4)
	if err != nil {
		return fmt.Errorf("decoding MiscSelect: %w", err)
	}
	q.MiscSelect = binary.LittleEndian.Uint32(miscSelect)
	miscSelectMask, err := decodeHexToByte(qeIdentity.MiscSelectMask, 4)
	if err != nil {
		return fmt.Errorf("decoding MiscSelectMask: %w", err)
	}
	q.MiscSelectMask = binary.LittleEndian.Uint32(miscSelectMask)

	attributes, err := decodeHexToByte(qeIdentity.Attributes, 16)
	if err != nil {
		return fmt.Errorf("decoding Attributes: %w", err)
	}
	q.Attributes = [16]byte(attributes)
	attributesMask, err := decodeHexToByte(qeIdentity.AttributesMask, 16)
	if err != nil {
		return fmt.Errorf("decoding AttributesMask: %w", err)
	}
	q.AttributesMask = [16]byte(attributesMask)

	mrSigner, err := decodeHexToByte(qeIdentity.MRSIGNER, 32)
	if err != nil {
		return fmt.Errorf("decoding MRSIGNER: %w", err)
	}
	q.MRSIGNER = [32]byte(mrSigner)

	q.ISVProdID = qeIdentity.ISVProdID

	q.TCBLevels = qeIdentity.TCBLevels

	return nil
}

// TCBStatus returns the TCB status of a Quoting Enclave with the given ISV SVN.
// The TCB levels are expected in the order returned by the PCS: descending,
// newest level first. The status of the first level at or below the given SVN is
// returned. A QE below all known levels is reported as Revoked.
func (q *QEIdentity) TCBStatus(isvSVN uint16) status.TCBStatus {
	for _, tcbLevel := range q.TCBLevels {
		if tcbLevel.TCB.ISVSVN <= isvSVN {
			return tcbLevel.TCBStatus
		}
	}
	return status.Revoked
}

// qeIdentityJSON contains the expected information of the SGX Quoting Enclave (QE).
// This is the JSON representation of the QE Identity using basic strings and ints.
type qeIdentityJSON struct {
	ID                      string     `json:"id"`
	Version                 uint32     `json:"version"`
	IssueDate               string     `json:"issueDate"`
	NextUpdate              string     `json:"nextUpdate"`
	TCBEvaluationDataNumber uint32     `json:"tcbEvaluationDataNumber"`
	MiscSelect              string     `json:"miscselect"`
	MiscSelectMask          string     `json:"miscselectMask"`
	Attributes              string     `json:"attributes"`
	AttributesMask          string     `json:"attributesMask"`
	MRSIGNER                string     `json:"mrSigner"`
	ISVProdID               uint16     `json:"isvprodid"`
	TCBLevels               []TCBLevel `json:"tcbLevels"`
}

// TCBLevel contains expected TCB information for an SGX platform or enclave.
type TCBLevel struct {
	TCB         TCB              `json:"tcb"`
	TCBDate     time.Time        `json:"tcbDate"`
	TCBStatus   status.TCBStatus `json:"tcbStatus"`
	AdvisoryIDs []string         `json:"advisoryIDs"`
}

// satisfiedBy reports whether a platform with the given CPUSVN and PCESVN
// is at or above this TCB level. All 16 TCB components and the PCESVN must
// be at or above the level's values.
func (t *TCBLevel) satisfiedBy(cpuSVN [CPUSVNByteLen]byte, pceSVN uint16) bool {
	for i, component := range t.TCB.SGXTCBComponents {
		if cpuSVN[i] < component.SVN {
			return false
		}
	}
	return pceSVN >= t.TCB.PCESVN
}

// UnmarshalJSON parses a JSON representation of the TCB Level into a TCBLevel.
func (t *TCBLevel) UnmarshalJSON(data []byte) error {
	var tcbLevel tcbLevelJSON
	if err := json.Unmarshal(data, &tcbLevel); err != nil {
		return fmt.Errorf("unmarshaling TCB Level JSON: %w", err)
	}

	t.TCB = tcbLevel.TCB
	tcbDate, err := time.Parse(time.RFC3339, tcbLevel.TCBDate)
	if err != nil {
		return fmt.Errorf("parsing TCB Date: %w", err)
	}
	t.TCBDate = tcbDate
	t.TCBStatus = tcbLevel.TCBStatus
	t.AdvisoryIDs = tcbLevel.AdvisoryIDs

	return nil
}

// tcbLevelJSON contains expected TCB information for an SGX platform or enclave.
// This is the JSON representation of the TCB Level using basic strings and ints.
// The status is decoded through status.TCBStatus so that unknown status strings
// are rejected instead of silently passing through as a new variant.
type tcbLevelJSON struct {
	TCB         TCB              `json:"tcb"`
	TCBDate     string           `json:"tcbDate"`
	TCBStatus   status.TCBStatus `json:"tcbStatus"`
	AdvisoryIDs []string         `json:"advisoryIDs"`
}

// TCB describes a TCB level of an SGX platform or enclave.
type TCB struct {
	SGXTCBComponents [16]TCBComponent `json:"sgxtcbcomponents"`
	PCESVN           uint16           `json:"pcesvn"`
	ISVSVN           uint16           `json:"isvsvn"`
}

// TCBComponent describes SVN information for a single SGX TCB component.
type TCBComponent struct {
	SVN      uint8  `json:"svn"`
	Category string `json:"category,omitempty"`
	Type     string `json:"type,omitempty"`
}

// decodeHexToByte decodes a hex string into a byte array.
// This function errors if the decoded string is not the expected length,
// to save the caller from having to check the length when parsing into fixed-size arrays.
func decodeHexToByte(in string, expectedLen int) ([]byte, error) {
	out, err := hex.DecodeString(in)
	if err != nil {
		return nil, fmt.Errorf("decoding hex string: %w", err)
	}

	if len(out) != expectedLen {
		return nil, fmt.Errorf("expected %d bytes, but got %d", expectedLen, len(out))
	}

	return out, nil
}

package verification

import (
	"encoding/binary"

	"github.com/edgelesssys/go-sgx-qvl/verification/status"
	"github.com/edgelesssys/go-sgx-qvl/verification/types"
)

// resultSize is the size of a serialized VerificationResult in bytes:
// quote version (2) + TEE type (4) + TCB status (1) + FMSPC (6) + enclave report (384).
const resultSize = 2 + 4 + 1 + 6 + types.EnclaveReportSize

// VerificationResult is the verdict of a successful quote verification.
// It is immutable once built and is the only artifact callers should act on.
type VerificationResult struct {
	QuoteVersion uint16
	TEEType      uint32
	TCBStatus    status.TCBStatus
	FMSPC        [6]byte
	QuoteBody    types.EnclaveReport
}

// Marshal serializes the result into its fixed binary layout:
// quote version, TEE type, TCB status code, FMSPC, and the attested enclave report,
// tightly packed with integers in little-endian order.
// The encoding is deterministic, so the output can serve as a commitment or cache key.
func (r *VerificationResult) Marshal() []byte {
	result := make([]byte, resultSize)

	binary.LittleEndian.PutUint16(result[0:2], r.QuoteVersion)
	binary.LittleEndian.PutUint32(result[2:6], r.TEEType)
	result[6] = r.TCBStatus.Code()
	copy(result[7:13], r.FMSPC[:])

	quoteBody := r.QuoteBody.Marshal()
	copy(result[13:], quoteBody[:])

	return result
}

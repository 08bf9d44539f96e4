package verification

import (
	"encoding/binary"
	"testing"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
	"github.com/edgelesssys/go-sgx-qvl/verification/status"
	"github.com/edgelesssys/go-sgx-qvl/verification/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalResult(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	quote, pckCert, tcbInfo, qeIdentity := setupQuote(require)

	result, err := testVerifier().verifyQuote(quote, len(blobs.SGXQuote()), pckCert, tcbInfo, qeIdentity)
	require.NoError(err)

	serialized := result.Marshal()
	require.Len(serialized, resultSize)

	assert.Equal(result.QuoteVersion, binary.LittleEndian.Uint16(serialized[0:2]))
	assert.Equal(result.TEEType, binary.LittleEndian.Uint32(serialized[2:6]))
	assert.Equal(result.TCBStatus.Code(), serialized[6])
	assert.Equal(result.FMSPC[:], serialized[7:13])

	quoteBody := quote.ISVReport.Marshal()
	assert.Equal(quoteBody[:], serialized[13:])

	// the encoding is deterministic
	assert.Equal(serialized, result.Marshal())
}

func TestMarshalResultStatusCodes(t *testing.T) {
	assert := assert.New(t)

	statuses := []status.TCBStatus{
		status.UpToDate,
		status.OutOfDate,
		status.ConfigurationNeeded,
		status.SWHardeningNeeded,
		status.ConfigurationAndSWHardeningNeeded,
		status.OutOfDateConfigurationNeeded,
		status.Revoked,
		status.Unknown,
	}

	for _, tcbStatus := range statuses {
		result := VerificationResult{
			QuoteVersion: QuoteVersion,
			TEEType:      types.TEETypeSGX,
			TCBStatus:    tcbStatus,
		}
		assert.Equal(tcbStatus.Code(), result.Marshal()[6], "status %s", tcbStatus)
	}
}

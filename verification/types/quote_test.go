package types

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"testing"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuote(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	rawQuote := blobs.SGXQuote()

	parsedQuote, err := ParseQuote(rawQuote)
	require.NoError(err)

	// Check header
	assert.EqualValues(3, parsedQuote.Header.Version)
	assert.EqualValues(2, parsedQuote.Header.AttestationKeyType)
	assert.EqualValues(TEETypeSGX, parsedQuote.Header.TEEType)
	assert.Equal("939a7233f79c4ca9940a0db3957f0607", hex.EncodeToString(parsedQuote.Header.QEVendorID[:]))

	// Check ISV enclave report
	assert.EqualValues(42, parsedQuote.ISVReport.ISVProdID)
	assert.EqualValues(3, parsedQuote.ISVReport.ISVSVN)

	// Check hard-coded MRSIGNER of the QE report
	qeReport := parsedQuote.Signature.QEReport
	assert.Equal("8c4f5775d796503e96137f77c68a829a0056ac8ded70140b081b094490c57bff", hex.EncodeToString(qeReport.MRSIGNER[:]))

	// Check QEAuthData
	expectedAuthData, err := hex.DecodeString("aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899")
	require.NoError(err)
	assert.Equal(expectedAuthData, parsedQuote.Signature.QEAuthData.Data)

	// Check if PEM chain is valid
	assert.EqualValues(PCK_ID_PCK_CERT_CHAIN, parsedQuote.Signature.CertificationData.Type)
	pemChain := parsedQuote.Signature.CertificationData.Data
	block, rest := pem.Decode(pemChain)
	assert.NotEmpty(block)
	assert.NotEmpty(rest)
	block, rest = pem.Decode(rest)
	assert.NotEmpty(block)
	assert.NotEmpty(rest)
	block, rest = pem.Decode(rest)
	assert.NotEmpty(block)
	assert.Equal([]byte{0x0}, rest) // C terminated string with 0x0 byte
}

func TestParseQuoteErrors(t *testing.T) {
	testCases := map[string]struct {
		quote func(raw []byte) []byte
	}{
		"quote too short for header and report": {
			quote: func(raw []byte) []byte { return raw[:435] },
		},
		"quote over size limit": {
			quote: func(raw []byte) []byte { return make([]byte, 1048577) },
		},
		"signature length field exceeds quote": {
			quote: func(raw []byte) []byte {
				binary.LittleEndian.PutUint32(raw[432:436], uint32(len(raw))) // signature would run past the end
				return raw
			},
		},
		"signature data truncated": {
			quote: func(raw []byte) []byte { return raw[:500] },
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			_, err := ParseQuote(tc.quote(blobs.SGXQuote()))
			assert.Error(err)
		})
	}
}

func TestParseEnclaveReportLength(t *testing.T) {
	assert := assert.New(t)

	for _, length := range []int{0, 1, 383, 385, 768} {
		_, err := ParseEnclaveReport(make([]byte, length))
		assert.Error(err, "length %d", length)
	}

	_, err := ParseEnclaveReport(make([]byte, EnclaveReportSize))
	assert.NoError(err)
}

func TestParseCertificationDataType(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	rawQuote := blobs.SGXQuote()
	parsedQuote, err := ParseQuote(rawQuote)
	require.NoError(err)

	// rewrite the certification data type field and reparse
	certDataOffset := signatureOffset + 578 + int(parsedQuote.Signature.QEAuthData.ParsedDataSize)
	binary.LittleEndian.PutUint16(rawQuote[certDataOffset:certDataOffset+2], 1) // PCK_ID_PLAIN
	_, err = ParseQuote(rawQuote)
	assert.Error(err)
}

func FuzzParseQuote(f *testing.F) {
	f.Add(blobs.SGXQuote())
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() { _, _ = ParseQuote(a) })
	})
}

func FuzzParseSignature(f *testing.F) {
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() { _, _ = parseSignature(a) })
	})
}

func FuzzParseCertificationData(f *testing.F) {
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() { _, _ = parseCertificationData(a) })
	})
}

func FuzzParseEnclaveReport(f *testing.F) {
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() { _, _ = ParseEnclaveReport(a) })
	})
}

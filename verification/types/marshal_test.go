package types

import (
	"testing"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalQuoteHeader(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	rawQuote := blobs.SGXQuote()
	parsedQuote, err := ParseQuote(rawQuote)
	require.NoError(err)

	quoteHeader := parsedQuote.Header
	assert.EqualValues(rawQuote[0:48], quoteHeader.Marshal())
}

func TestMarshalISVReport(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	rawQuote := blobs.SGXQuote()
	parsedQuote, err := ParseQuote(rawQuote)
	require.NoError(err)

	isvReport := parsedQuote.ISVReport
	assert.EqualValues(rawQuote[48:432], isvReport.Marshal())
}

func TestMarshalQEReport(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	rawQuote := blobs.SGXQuote()
	parsedQuote, err := ParseQuote(rawQuote)
	require.NoError(err)

	// QE report starts 128 bytes into the signature data
	qeReport := parsedQuote.Signature.QEReport
	assert.EqualValues(rawQuote[564:948], qeReport.Marshal())
}

package types

import (
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePCKSGXExtensions(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pckCert, caCert := pckChainFromQuote(t)

	ext, err := ParsePCKSGXExtensions(pckCert)
	require.NoError(err)

	assert.Equal([6]byte{0x00, 0x90, 0x6E, 0xA1, 0x00, 0x00}, ext.FMSPC)
	assert.Equal([2]byte{0x00, 0x00}, ext.PCEID)
	assert.EqualValues(13, ext.TCB.PCESVN)
	assert.Equal(1, ext.SGXType)
	assert.NotEqual([16]byte{}, ext.PPID)
	assert.NotEqual([16]byte{}, ext.PlatformInstanceID)
	assert.True(ext.Configuration.DynamicPlatform)
	assert.True(ext.Configuration.CachedKeys)
	assert.True(ext.Configuration.SMTEnabled)

	// component SVNs mirror the CPUSVN bytes
	for i, svn := range ext.TCB.TCBSVN {
		assert.Equal(ext.TCB.CPUSVN[i], svn, "component %d", i+1)
	}

	// the issuing CA carries no SGX extension
	_, err = ParsePCKSGXExtensions(caCert)
	assert.Error(err)
}

func pckChainFromQuote(t *testing.T) (pckCert, caCert *x509.Certificate) {
	t.Helper()
	require := require.New(t)

	quote, err := ParseQuote(blobs.SGXQuote())
	require.NoError(err)

	leafPEM, rest := pem.Decode(quote.Signature.CertificationData.Data)
	require.NotEmpty(leafPEM)
	pckCert, err = x509.ParseCertificate(leafPEM.Bytes)
	require.NoError(err)

	caPEM, _ := pem.Decode(rest)
	require.NotEmpty(caPEM)
	caCert, err = x509.ParseCertificate(caPEM.Bytes)
	require.NoError(err)

	return pckCert, caCert
}

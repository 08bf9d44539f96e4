package verification

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"testing"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
	"github.com/edgelesssys/go-sgx-qvl/verification/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*
	This is a collection of verification snippets which we later can use to build the full verification.
	This is mainly done to understand how the crypto works.
*/

// 4.1.2.4.16
// Use given public key & signature over SGXQuote3Header + EnclaveReport.
func TestQuoteSignatureVerificationBasic(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	parsedQuote, err := types.ParseQuote(blobs.SGXQuote())
	require.NoError(err)

	signature := parsedQuote.Signature.Signature
	publicKey := parsedQuote.Signature.PublicKey // This key is called attestKey in Intel's code.

	headerBytes := parsedQuote.Header.Marshal()
	reportBytes := parsedQuote.ISVReport.Marshal()
	toVerify := sha256.Sum256(append(headerBytes[:], reportBytes[:]...)) // Quote header + ISV report

	// The attestation key is just the raw X and Y coordinates on P-256.
	key := new(ecdsa.PublicKey)
	key.Curve = elliptic.P256()
	key.X = new(big.Int).SetBytes(publicKey[:32])
	key.Y = new(big.Int).SetBytes(publicKey[32:64])

	assert.NotNil(key.X)
	assert.NotNil(key.Y)

	// ecdsa.VerifyASN1 would expect an ASN.1 SEQUENCE, but the quote carries
	// the signature as plain r || s, so split it up like Intel's QVL does.
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:64])

	verified := ecdsa.Verify(key, toVerify[:], r, s)
	assert.True(verified)
}

// 4.1.2.4.13
// The public key from above is authenticated by the QE report:
// a hash over the attestation key and the QEAuthData is embedded as report data.
func TestQEReportAttestKeyReportDataConcat(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	parsedQuote, err := types.ParseQuote(blobs.SGXQuote())
	require.NoError(err)

	attestKeyData := parsedQuote.Signature.PublicKey
	qeAuthData := parsedQuote.Signature.QEAuthData.Data
	concat := append(attestKeyData[:], qeAuthData...)
	concatSHA256 := sha256.Sum256(concat)

	assert.Equal(concatSHA256[:], parsedQuote.Signature.QEReport.ReportData[:32])
}

// 4.1.2.4.12
func TestQEReportSignatureVerification(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	parsedQuote, err := types.ParseQuote(blobs.SGXQuote())
	require.NoError(err)

	pemChain := parsedQuote.Signature.CertificationData.Data

	pckLeafPEM, rest := pem.Decode(pemChain)
	assert.NotEmpty(pckLeafPEM)
	assert.NotEmpty(rest)
	pckLeaf, err := x509.ParseCertificate(pckLeafPEM.Bytes)
	assert.NoError(err)

	enclaveReport := parsedQuote.Signature.QEReport
	marshaledEnclaveReport := enclaveReport.Marshal()
	marshaledEnclaveReportHash := sha256.Sum256(marshaledEnclaveReport[:])

	pckLeafECDSAPublicKey := pckLeaf.PublicKey.(*ecdsa.PublicKey)
	signature := parsedQuote.Signature.QEReportSignature

	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:64])

	verified := ecdsa.Verify(pckLeafECDSAPublicKey, marshaledEnclaveReportHash[:], r, s)
	assert.True(verified)
}

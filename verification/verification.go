/*
# Intel SGX Quote Verification

This package provides a simple interface to verify Intel SGX ECDSA (DCAP) v3 quotes.

Attestation of an SGX attestation statement follows these steps:

  - Retrieve SGX collateral from Intel's PCS.

    This includes the PCK CRL chain, TCB Info, QE Identity information, and Intel's Root CA CRL.

  - Verify the PCK cert chain embedded in the quote using the PCK CRL chain, Root CA CRL, and trusted Root CA.

  - Verify the quote using the PCK Cert, TCB Info, and QE Identity.

The final verdict is a [VerificationResult] carrying the converged TCB status of the
platform and the attested enclave report, or an error naming the first failed check.
*/
package verification

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/edgelesssys/go-sgx-qvl/verification/crypto"
	"github.com/edgelesssys/go-sgx-qvl/verification/pcs"
	"github.com/edgelesssys/go-sgx-qvl/verification/status"
	"github.com/edgelesssys/go-sgx-qvl/verification/types"
)

const (
	// QuoteVersion is the only quote format version accepted by this verifier.
	QuoteVersion = 3

	// ECDSA256AttestationKeyType is the attestation key type for ECDSA-256-with-P-256 keys,
	// the only key type accepted by this verifier.
	ECDSA256AttestationKeyType = 2

	// MinimumQuoteLength is the minimal length of a well-formed v3 quote:
	// header + ISV enclave report + signature length field + minimal signature data.
	MinimumQuoteLength = 1020

	// pckChainLength is the expected number of certificates in the embedded PCK chain:
	// PCK leaf, PCK CA, and Root CA.
	pckChainLength = 3
)

// ValidQEVendorID is the vendor ID of Intel's Quoting Enclave.
// Quotes produced by a QE with any other vendor ID are rejected.
var ValidQEVendorID = [16]byte{0x93, 0x9a, 0x72, 0x33, 0xf7, 0x9c, 0x4c, 0xa9, 0x94, 0x0a, 0x0d, 0xb3, 0x95, 0x7f, 0x06, 0x07}

// Errors returned by quote verification. All verification failures wrap exactly
// one of these sentinels, so callers can branch on the failure class with
// [errors.Is] while the error string names the first failed check.
var (
	// ErrQuoteFormat is returned when the quote's binary structure cannot be parsed.
	ErrQuoteFormat = errors.New("malformed quote structure")

	// ErrQuotePolicy is returned when a quote header field does not match the verifier's policy.
	ErrQuotePolicy = errors.New("quote header does not match verifier policy")

	// ErrChainParse is returned when the PCK certificate chain cannot be parsed,
	// or the PCK certificate lacks the SGX platform extension.
	ErrChainParse = errors.New("malformed PCK certificate chain")

	// ErrSignature is returned when the quote's signature chain or the
	// attestation key binding cannot be verified.
	ErrSignature = errors.New("quote signature chain verification failed")

	// ErrQEIdentity is returned when the QE report does not match the reference QE identity.
	ErrQEIdentity = errors.New("QE report does not match reference identity")
)

// SGXVerifier is used to verify SGX quotes.
// The policy fields are fixed at construction and never mutated,
// so a single verifier is safe for concurrent use.
type SGXVerifier struct {
	pcsClient *pcs.TrustedServicesClient

	quoteVersion       uint16
	attestationKeyType uint16
	qeVendorID         [16]byte
	minQuoteLength     int
}

// New creates a new SGXVerifier with the default policy for Intel SGX v3 quotes.
func New() (*SGXVerifier, error) {
	pcsClient, err := pcs.New()
	if err != nil {
		return nil, err
	}
	return &SGXVerifier{
		pcsClient:          pcsClient,
		quoteVersion:       QuoteVersion,
		attestationKeyType: ECDSA256AttestationKeyType,
		qeVendorID:         ValidQEVendorID,
		minQuoteLength:     MinimumQuoteLength,
	}, nil
}

// Verify verifies an SGX quote.
//
// This is the high level API function that handles retrieval of SGX collateral from Intel's PCS.
// Use [*SGXVerifier.VerifyQuote] and [*SGXVerifier.VerifyPCKCert] if you want to handle
// collateral retrieval and verification yourself.
func (v *SGXVerifier) Verify(ctx context.Context, rawQuote []byte) (VerificationResult, error) {
	if len(rawQuote) < v.minQuoteLength {
		return VerificationResult{}, fmt.Errorf("%w: quote length is less than minimum (expected at least %d bytes, got %d)", ErrQuotePolicy, v.minQuoteLength, len(rawQuote))
	}

	quote, err := types.ParseQuote(rawQuote)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("%w: parsing SGX quote: %v", ErrQuoteFormat, err)
	}

	certChain, err := ParsePCKCertChain(quote)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("%w: %v", ErrChainParse, err)
	}
	pckCert := certChain[0]

	pckCRL, pckCACert, err := v.pcsClient.GetPCKCRL(ctx, caTypeFromIssuer(pckCert))
	if err != nil {
		return VerificationResult{}, fmt.Errorf("getting PCK CRL: %w", err)
	}

	if err := v.VerifyPCKCert(pckCert, pckCACert, pckCRL); err != nil {
		return VerificationResult{}, fmt.Errorf("verifying PCK certificate: %w", err)
	}

	ext, err := types.ParsePCKSGXExtensions(pckCert)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("%w: getting SGX extensions from PCK certificate: %v", ErrChainParse, err)
	}

	tcbInfo, err := v.pcsClient.GetTCBInfo(ctx, ext.FMSPC)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("getting TCB Info: %w", err)
	}

	qeIdentity, err := v.pcsClient.GetQEIdentity(ctx)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("getting QE Identity: %w", err)
	}

	return v.verifyQuote(quote, len(rawQuote), pckCert, tcbInfo, qeIdentity)
}

// VerifyQuote verifies an SGX quote using caller supplied collateral:
// the PCK certificate extracted from the quote's certification data
// (verified by the caller, e.g. with [*SGXVerifier.VerifyPCKCert]),
// the TCB Info for the platform's FMSPC, and the QE Identity.
//
// On success the converged TCB status of the platform and the attested enclave
// report are returned as a [VerificationResult]. Any failed check terminates
// verification; no later checks are evaluated.
func (v *SGXVerifier) VerifyQuote(rawQuote []byte, pckCert *x509.Certificate, tcbInfo types.TCBInfo, qeIdentity types.QEIdentity) (VerificationResult, error) {
	if len(rawQuote) < v.minQuoteLength {
		return VerificationResult{}, fmt.Errorf("%w: quote length is less than minimum (expected at least %d bytes, got %d)", ErrQuotePolicy, v.minQuoteLength, len(rawQuote))
	}

	quote, err := types.ParseQuote(rawQuote)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("%w: parsing SGX quote: %v", ErrQuoteFormat, err)
	}

	return v.verifyQuote(quote, len(rawQuote), pckCert, tcbInfo, qeIdentity)
}

// verifyQuote runs the verification checks on a parsed quote.
// The check order follows Intel's reference verification flow; the section
// numbers below refer to the steps of that flow.
func (v *SGXVerifier) verifyQuote(quote types.SGXQuote3, quoteLength int, pckCert *x509.Certificate, tcbInfo types.TCBInfo, qeIdentity types.QEIdentity) (VerificationResult, error) {
	// 4.1.2.4.1-4.1.2.4.5
	// verify quote header against the verifier's policy
	if err := v.verifyHeader(quote.Header, quoteLength); err != nil {
		return VerificationResult{}, err
	}

	// 4.1.2.4.9
	if tcbInfo.ID != types.TCBInfoSGXID {
		return VerificationResult{}, fmt.Errorf("TCBInfo was generated for a different TEE: expected %s, got %s", types.TCBInfoSGXID, tcbInfo.ID)
	}

	// 4.1.2.4.10
	// get PCK cert extensions and verify them against the TCB Info
	ext, err := types.ParsePCKSGXExtensions(pckCert)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("%w: getting SGX extensions from PCK certificate: %v", ErrChainParse, err)
	}

	if !bytes.Equal(ext.FMSPC[:], tcbInfo.FMSPC[:]) {
		return VerificationResult{}, fmt.Errorf("FMSPC in PCK certificate (%x) does not match FMSPC in TCB Info (%x)", ext.FMSPC, tcbInfo.FMSPC)
	}
	if !bytes.Equal(ext.PCEID[:], tcbInfo.PCEID[:]) {
		return VerificationResult{}, fmt.Errorf("PCEID in PCK certificate (%x) does not match PCEID in TCB Info (%x)", ext.PCEID, tcbInfo.PCEID)
	}

	// 4.1.2.4.12
	// verify the QE report was signed with the PCK.
	// The quote signature is only checked afterwards: the attestation key it was
	// created with is only trustworthy if the QE report vouching for that key is
	// itself authentic.
	qeReportBytes := quote.Signature.QEReport.Marshal()
	if err := crypto.VerifyECDSASignature(pckCert.PublicKey, qeReportBytes[:], quote.Signature.QEReportSignature[:]); err != nil {
		return VerificationResult{}, fmt.Errorf("%w: verifying QE report signature: %v", ErrSignature, err)
	}

	// 4.1.2.4.13
	// verify the QE report data commits to the attestation key and auth data
	concatSHA256 := sha256.Sum256(append(quote.Signature.PublicKey[:], quote.Signature.QEAuthData.Data...))
	if !bytes.Equal(quote.Signature.QEReport.ReportData[:32], concatSHA256[:]) {
		return VerificationResult{}, fmt.Errorf("%w: QE report data does not match QE authentication data", ErrSignature)
	}

	// 4.1.2.4.14-4.1.2.4.15
	// verify QE report against QE Identity
	if qeIdentity.Version != types.QEIdentityVersion {
		return VerificationResult{}, fmt.Errorf("QE Identity version %d is not valid for SGX", qeIdentity.Version)
	}
	if qeIdentity.ID != types.QEIdentitySGXID {
		return VerificationResult{}, fmt.Errorf("QE Identity was generated for a different TEE: expected %s, got %s", types.QEIdentitySGXID, qeIdentity.ID)
	}
	qeStatus, err := verifyQEIdentity(quote.Signature.QEReport, qeIdentity)
	if err != nil {
		return VerificationResult{}, err
	}

	// 4.1.2.4.16
	// verify quote signature over header + ISV report using the attestation key
	attestationKey := crypto.BuildECDSAPublicKey(quote.Signature.PublicKey)
	headerBytes := quote.Header.Marshal()
	isvReportBytes := quote.ISVReport.Marshal()
	toVerify := append(headerBytes[:], isvReportBytes[:]...)
	if err := crypto.VerifyECDSASignature(attestationKey, toVerify, quote.Signature.Signature[:]); err != nil {
		return VerificationResult{}, fmt.Errorf("%w: verifying quote signature: %v", ErrSignature, err)
	}

	// 4.1.2.4.17
	// determine the platform TCB status and converge it with the QE status
	platformStatus := tcbInfo.TCBStatus(ext.TCB.CPUSVN, ext.TCB.PCESVN)
	finalStatus := status.ConvergeTCBStatus(qeStatus, platformStatus)

	return VerificationResult{
		QuoteVersion: quote.Header.Version,
		TEEType:      quote.Header.TEEType,
		TCBStatus:    finalStatus,
		FMSPC:        ext.FMSPC,
		QuoteBody:    quote.ISVReport,
	}, nil
}

// verifyHeader checks the quote header against the verifier's policy.
// The checks run in a fixed order and stop at the first failure,
// so the reported reason is reproducible for a given quote.
func (v *SGXVerifier) verifyHeader(header types.SGXQuote3Header, quoteLength int) error {
	if quoteLength < v.minQuoteLength {
		return fmt.Errorf("%w: quote length is less than minimum (expected at least %d bytes, got %d)", ErrQuotePolicy, v.minQuoteLength, quoteLength)
	}
	if header.Version != v.quoteVersion {
		return fmt.Errorf("%w: quote version mismatch (expected %d, got %d)", ErrQuotePolicy, v.quoteVersion, header.Version)
	}
	if header.AttestationKeyType != v.attestationKeyType {
		return fmt.Errorf("%w: unsupported attestation key type (expected %d, got %d)", ErrQuotePolicy, v.attestationKeyType, header.AttestationKeyType)
	}
	if !teeTypeRecognized(header.TEEType) {
		return fmt.Errorf("%w: unknown TEE type %#x", ErrQuotePolicy, header.TEEType)
	}
	if !bytes.Equal(header.QEVendorID[:], v.qeVendorID[:]) {
		return fmt.Errorf("%w: invalid QE vendor ID (expected %x, got %x)", ErrQuotePolicy, v.qeVendorID, header.QEVendorID)
	}
	return nil
}

// teeTypeRecognized reports whether the given TEE type tag is one this verifier
// can handle. TDX quotes use the v4 format and are rejected here, not parsed.
func teeTypeRecognized(teeType uint32) bool {
	return teeType == types.TEETypeSGX
}

// verifyQEIdentity compares a QE report against the reference QE Identity.
// A structural mismatch (measurement, attributes, product ID) means the QE is
// unknown and verification fails. Otherwise the QE's TCB status is determined
// by its ISV SVN.
func verifyQEIdentity(qeReport types.EnclaveReport, qeIdentity types.QEIdentity) (status.TCBStatus, error) {
	if qeReport.MiscSelect&qeIdentity.MiscSelectMask != qeIdentity.MiscSelect&qeIdentity.MiscSelectMask {
		return status.Unknown, fmt.Errorf("%w: MiscSelect %#x does not match expected %#x under mask %#x", ErrQEIdentity, qeReport.MiscSelect, qeIdentity.MiscSelect, qeIdentity.MiscSelectMask)
	}

	maskedAttributes := make([]byte, len(qeReport.Attributes))
	expectedAttributes := make([]byte, len(qeIdentity.Attributes))
	for i := range qeReport.Attributes {
		maskedAttributes[i] = qeReport.Attributes[i] & qeIdentity.AttributesMask[i]
		expectedAttributes[i] = qeIdentity.Attributes[i] & qeIdentity.AttributesMask[i]
	}
	if !bytes.Equal(maskedAttributes, expectedAttributes) {
		return status.Unknown, fmt.Errorf("%w: masked attributes %x do not match expected %x", ErrQEIdentity, maskedAttributes, expectedAttributes)
	}

	if !bytes.Equal(qeReport.MRSIGNER[:], qeIdentity.MRSIGNER[:]) {
		return status.Unknown, fmt.Errorf("%w: MRSIGNER %x does not match expected %x", ErrQEIdentity, qeReport.MRSIGNER, qeIdentity.MRSIGNER)
	}

	if qeReport.ISVProdID != qeIdentity.ISVProdID {
		return status.Unknown, fmt.Errorf("%w: ISVProdID %d does not match expected %d", ErrQEIdentity, qeReport.ISVProdID, qeIdentity.ISVProdID)
	}

	return qeIdentity.TCBStatus(qeReport.ISVSVN), nil
}

// VerifyPCKCert verifies the PCK certificate was not revoked and is signed by pckCA.
// The pckCA certificate is assumed to be trusted and should be verified by the caller using a trusted root CA.
func (v *SGXVerifier) VerifyPCKCert(pckCert, pckCA *x509.Certificate, pckCRL *x509.RevocationList) error {
	// check if PCK cert is revoked
	for _, crlEntry := range pckCRL.RevokedCertificates {
		if crlEntry.SerialNumber.Cmp(pckCert.SerialNumber) == 0 {
			return errors.New("checking PCK certificate validity: certificate revoked by CRL")
		}
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(pckCA) // intermediate cert is trusted
	if _, err := pckCert.Verify(x509.VerifyOptions{Roots: certPool}); err != nil {
		return fmt.Errorf("verifying PCK certificate: %w", err)
	}

	return nil
}

// ParsePCKCertChain parses the PEM-encoded PCK certificate chain from an SGX quote's
// certification data. The quote should contain a chain with 3 certificates:
// PCK, PCK CA, and Root CA, in that order (leaf first).
func ParsePCKCertChain(quote types.SGXQuote3) ([]*x509.Certificate, error) {
	certChain, err := crypto.ParsePEMCertificateChain(quote.Signature.CertificationData.Data)
	if err != nil {
		return nil, fmt.Errorf("parsing PCK certificate chain: %w", err)
	}
	if len(certChain) != pckChainLength {
		return nil, fmt.Errorf("PCK certificate chain must have %d certificates, got %d", pckChainLength, len(certChain))
	}

	return certChain, nil
}

// caTypeFromIssuer returns the PCS CA type matching the issuer of the given PCK certificate.
func caTypeFromIssuer(pckCert *x509.Certificate) string {
	if pckCert.Issuer.CommonName == types.ProcessorIssuer {
		return pcs.SGXProcessor
	}
	return pcs.SGXPlatform
}

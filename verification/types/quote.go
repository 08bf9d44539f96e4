package types

import (
	"encoding/binary"
	"fmt"
)

/*
   SGX (SGX Quote 3 / SGX Report) Quote parser
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_3.h#L113
   https://github.com/intel/linux-sgx/blob/d5e10dfbd7381bcd47eb25d2dc1d2da4e9a91e70/common/inc/sgx_report.h#L93
*/

const (
	// TEETypeSGX is the type number referenced in the quote header for SGX quotes.
	TEETypeSGX = 0x0

	// TEETypeTDX is the type number referenced in the quote header for TDX quotes.
	// TDX quotes use the v4 format and are not parseable by this package.
	TEETypeTDX = 0x81

	// PCK_ID_PCK_CERT_CHAIN is the CertificationData type holding the PCK cert chain (encoded in PEM, \0 byte terminated).
	PCK_ID_PCK_CERT_CHAIN = 5

	// EnclaveReportSize is the size of a serialized EnclaveReport in bytes.
	EnclaveReportSize = 384

	// headerSize is the size of a serialized SGXQuote3Header in bytes.
	headerSize = 48

	// signatureOffset is the offset of the signature data in a raw quote:
	// header (48 bytes) + ISV enclave report (384 bytes) + signature length field (4 bytes).
	signatureOffset = headerSize + EnclaveReportSize + 4

	// minSignatureSize is the minimal size of ECDSA256QuoteV3AuthData:
	// signature (64) + public key (64) + QE report (384) + QE report signature (64)
	// + QEAuthData size field (2) + CertificationData type and size fields (2 + 4).
	minSignatureSize = 64 + 64 + EnclaveReportSize + 64 + 2 + 2 + 4
)

// SGXQuote3Header is the header of an SGX quote compatible with v3 of the attestation API.
type SGXQuote3Header struct {
	Version            uint16
	AttestationKeyType uint16
	TEEType            uint32 // 0x0 = SGX, 0x81 = TDX
	QESVN              uint16
	PCESVN             uint16
	QEVendorID         [16]byte
	UserData           [20]byte
}

// EnclaveReport is the report body of an SGX enclave.
// It appears twice in a v3 quote: as the ISV enclave report being attested,
// and as the Quoting Enclave (QE) report inside the signature data.
type EnclaveReport struct {
	CPUSVN     [16]byte
	MiscSelect uint32
	Reserved1  [28]byte
	Attributes [16]byte
	MRENCLAVE  [32]byte
	Reserved2  [32]byte
	MRSIGNER   [32]byte
	Reserved3  [96]byte
	ISVProdID  uint16
	ISVSVN     uint16
	Reserved4  [60]byte
	ReportData [64]byte
}

// SGXQuote3 is an SGX quote compatible with v3 of the attestation API.
type SGXQuote3 struct {
	Header          SGXQuote3Header
	ISVReport       EnclaveReport
	SignatureLength uint32
	Signature       ECDSA256QuoteV3AuthData
}

// ECDSA256QuoteV3AuthData is the signature of an SGX v3 quote.
type ECDSA256QuoteV3AuthData struct {
	Signature         [64]byte // ECDSA256 signature over header + ISV report
	PublicKey         [64]byte // raw ECDSA256 attestation key (called attestKey in Intel's code)
	QEReport          EnclaveReport
	QEReportSignature [64]byte // ECDSA256 signature over QEReport, signed with the PCK
	QEAuthData        QEAuthData
	CertificationData CertificationData
}

// QEAuthData holds the Quoting Enclave (QE) authentication data.
type QEAuthData struct {
	ParsedDataSize uint16
	Data           []byte
}

// CertificationData is a generic data wrapper from Intel's library.
// For v3 SGX quotes this holds the PEM encoded PCK certificate chain
// (type == 5: PCK_ID_PCK_CERT_CHAIN).
type CertificationData struct {
	Type           uint16
	ParsedDataSize uint32
	Data           []byte
}

// ParseQuote parses an Intel SGX v3 quote. The expected input is the complete quote.
func ParseQuote(rawQuote []byte) (SGXQuote3, error) {
	quoteLength := len(rawQuote)
	if quoteLength < signatureOffset {
		return SGXQuote3{}, fmt.Errorf("quote structure is too short to be parsed (received: %d bytes)", quoteLength)
	} else if quoteLength > 1048576 {
		return SGXQuote3{}, fmt.Errorf("quote is too large (over 1 MiB, received: %d bytes)", quoteLength)
	}

	header := ParseHeader([headerSize]byte(rawQuote[0:headerSize]))

	isvReport, err := ParseEnclaveReport(rawQuote[headerSize : headerSize+EnclaveReportSize])
	if err != nil {
		return SGXQuote3{}, fmt.Errorf("parsing ISV enclave report: %w", err)
	}

	signatureLength := binary.LittleEndian.Uint32(rawQuote[432:436])
	// Upgrade to uint64 since we could overflow if SignatureLength is close to the top of uint32.
	endSignature := signatureOffset + uint64(signatureLength)
	if endSignature > uint64(quoteLength) {
		return SGXQuote3{}, fmt.Errorf("quote SignatureLength is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", signatureLength, quoteLength-signatureOffset)
	}

	signature, err := parseSignature(rawQuote[signatureOffset:endSignature])
	if err != nil {
		return SGXQuote3{}, fmt.Errorf("failed parsing quote signature: %w", err)
	}

	return SGXQuote3{
		Header:          header,
		ISVReport:       isvReport,
		SignatureLength: signatureLength,
		Signature:       signature,
	}, nil
}

// ParseHeader parses the fixed 48 byte header of an SGX v3 quote.
func ParseHeader(rawHeader [headerSize]byte) SGXQuote3Header {
	return SGXQuote3Header{
		Version:            binary.LittleEndian.Uint16(rawHeader[0:2]),
		AttestationKeyType: binary.LittleEndian.Uint16(rawHeader[2:4]),
		TEEType:            binary.LittleEndian.Uint32(rawHeader[4:8]),
		QESVN:              binary.LittleEndian.Uint16(rawHeader[8:10]),
		PCESVN:             binary.LittleEndian.Uint16(rawHeader[10:12]),
		QEVendorID:         [16]byte(rawHeader[12:28]),
		UserData:           [20]byte(rawHeader[28:48]),
	}
}

// ParseEnclaveReport parses the fixed 384 byte report body of an SGX enclave.
// Inputs of any other length are rejected instead of being padded or truncated.
func ParseEnclaveReport(rawReport []byte) (EnclaveReport, error) {
	if len(rawReport) != EnclaveReportSize {
		return EnclaveReport{}, fmt.Errorf("enclave report is not %d bytes long (received: %d bytes)", EnclaveReportSize, len(rawReport))
	}

	return EnclaveReport{
		CPUSVN:     [16]byte(rawReport[0:16]),
		MiscSelect: binary.LittleEndian.Uint32(rawReport[16:20]),
		Reserved1:  [28]byte(rawReport[20:48]),
		Attributes: [16]byte(rawReport[48:64]),
		MRENCLAVE:  [32]byte(rawReport[64:96]),
		Reserved2:  [32]byte(rawReport[96:128]),
		MRSIGNER:   [32]byte(rawReport[128:160]),
		Reserved3:  [96]byte(rawReport[160:256]),
		ISVProdID:  binary.LittleEndian.Uint16(rawReport[256:258]),
		ISVSVN:     binary.LittleEndian.Uint16(rawReport[258:260]),
		Reserved4:  [60]byte(rawReport[260:320]),
		ReportData: [64]byte(rawReport[320:384]),
	}, nil
}

/*
   SGX Quote Signature Parsing
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteVerification/QVL/Src/AttestationLibrary/src/QuoteVerification/QuoteStructures.h
*/

// parseSignature parses a signature (ECDSA256QuoteV3AuthData) from an SGXQuote3.
func parseSignature(signature []byte) (ECDSA256QuoteV3AuthData, error) {
	signatureLength := len(signature)
	if signatureLength < minSignatureSize {
		return ECDSA256QuoteV3AuthData{}, fmt.Errorf("signature is too short to be parsed (expected at least: %d bytes, received: %d bytes)", minSignatureSize, signatureLength)
	}

	qeReport, err := ParseEnclaveReport(signature[128:512])
	if err != nil {
		return ECDSA256QuoteV3AuthData{}, fmt.Errorf("parsing QE report: %w", err)
	}

	quoteSignature := ECDSA256QuoteV3AuthData{
		Signature:         [64]byte(signature[0:64]),   // ECDSA256 signature
		PublicKey:         [64]byte(signature[64:128]), // ECDSA256 public key
		QEReport:          qeReport,
		QEReportSignature: [64]byte(signature[512:576]),
		QEAuthData: QEAuthData{
			ParsedDataSize: binary.LittleEndian.Uint16(signature[576:578]),
		},
	}

	// Upgrade to uint32 since we could overflow if ParsedDataSize is close to the top of uint16.
	endQEAuthData := 578 + uint32(quoteSignature.QEAuthData.ParsedDataSize)
	if endQEAuthData > uint32(signatureLength) {
		return ECDSA256QuoteV3AuthData{}, fmt.Errorf("QEAuthData.ParsedDataSize is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", quoteSignature.QEAuthData.ParsedDataSize, signatureLength-578)
	}
	quoteSignature.QEAuthData.Data = signature[578:endQEAuthData]

	// Parse CertificationData in an extra function to keep this function itself cleaner and readable.
	// There's no expected data size here, so the callee does the size check at the beginning.
	certificationData, err := parseCertificationData(signature[endQEAuthData:])
	if err != nil {
		return ECDSA256QuoteV3AuthData{}, err
	}
	quoteSignature.CertificationData = certificationData

	return quoteSignature, nil
}

// parseCertificationData parses the CertificationData trailing the QE authentication data
// in ECDSA256QuoteV3AuthData.
func parseCertificationData(certData []byte) (CertificationData, error) {
	certDataLength := len(certData)
	if certDataLength <= 6 {
		return CertificationData{}, fmt.Errorf("CertificationData is too short to be parsed (received: %d bytes)", certDataLength)
	}

	certificationData := CertificationData{
		Type:           binary.LittleEndian.Uint16(certData[0:2]),
		ParsedDataSize: binary.LittleEndian.Uint32(certData[2:6]),
	}

	if certificationData.Type != PCK_ID_PCK_CERT_CHAIN {
		return CertificationData{}, fmt.Errorf("CertificationData.Type is unexpected (expected PCK_ID_PCK_CERT_CHAIN (5), got %d)", certificationData.Type)
	}

	// Upgrade to uint64 since we could overflow if ParsedDataSize is close to the top of uint32.
	endCertData := 6 + uint64(certificationData.ParsedDataSize)
	if endCertData > uint64(certDataLength) {
		return CertificationData{}, fmt.Errorf("CertificationData.ParsedDataSize is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", certificationData.ParsedDataSize, certDataLength-6)
	}
	certificationData.Data = certData[6:endCertData]

	return certificationData, nil
}

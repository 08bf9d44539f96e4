/*
Package blobs provides self-consistent SGX fixtures for testing.

Real SGX quotes embed PCK certificates issued by Intel and only verify against
live, unexpired collateral from Intel's PCS. The fixtures here are instead
synthesized once at package initialization from a throwaway PCK hierarchy:
the quote, the PCK certificate chain embedded in it, the PCK CRL, and the
signed TCB Info and QE Identity documents all belong together, so the full
verification flow succeeds without contacting the PCS.

The serialized quote follows the SGX v3 quote layout, and the collateral
documents follow the v4 PCS API response format.
*/
package blobs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// PCSIssueDate is the issue date of the TCB Info and QE Identity fixtures.
// Tests checking collateral freshness should use a clock set to this date.
var PCSIssueDate = time.Date(2023, 2, 15, 12, 0, 0, 0, time.UTC)

const (
	issueDate  = "2023-02-15T12:00:00Z"
	nextUpdate = "2023-03-17T12:00:00Z"
	tcbDate    = "2023-02-15T00:00:00Z"
)

// Platform identity shared by the PCK certificate extension and the TCB Info.
var (
	fmspc  = [6]byte{0x00, 0x90, 0x6e, 0xa1, 0x00, 0x00}
	pceID  = [2]byte{0x00, 0x00}
	cpuSVN = [16]byte{12, 12, 3, 3, 255, 255, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0}
)

const pceSVN uint16 = 13

// QE identity shared by the QE report inside the quote and the QE Identity document.
var (
	qeVendorID     = [16]byte{0x93, 0x9a, 0x72, 0x33, 0xf7, 0x9c, 0x4c, 0xa9, 0x94, 0x0a, 0x0d, 0xb3, 0x95, 0x7f, 0x06, 0x07}
	qeMRSigner     = mustHex32("8c4f5775d796503e96137f77c68a829a0056ac8ded70140b081b094490c57bff")
	qeAttributes   = [16]byte{0x11}
	qeAuthData     = mustHex("aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899")
	qeISVSVN       = uint16(8)
	qeISVProdID    = uint16(1)
	attributesHex  = "11000000000000000000000000000000"
	attrMaskHex    = "fbffffffffffffff0000000000000000"
	miscSelectHex  = "00000000"
	miscSelMaskHex = "ffffffff"
)

var (
	// TCBInfoJSON is a signed TCB Info in the PCS v4 response format.
	// The signature verifies with TCBSigningCertPEM.
	TCBInfoJSON []byte

	// QEIdentityJSON is a signed QE Identity in the PCS v4 response format.
	// The signature verifies with TCBSigningCertPEM.
	QEIdentityJSON []byte

	// TCBSigningCertPEM is the certificate the TCB Info and QE Identity fixtures are signed with.
	TCBSigningCertPEM []byte

	// CRLSigningCertPEM is the PCK Platform CA certificate.
	// It issued the PCK certificate embedded in the quote, and signs the PCK CRL.
	CRLSigningCertPEM []byte

	// RootCertPEM is the self-signed root CA certificate of the fixture hierarchy.
	RootCertPEM []byte

	sgxQuote     []byte
	pckCRLDER    []byte
	rootCACRLDER []byte
)

// SGXQuote returns a serialized SGX v3 quote whose certificate chain,
// QE report binding, and quote signature all verify against the collateral
// fixtures of this package. The returned slice is a fresh copy.
func SGXQuote() []byte {
	out := make([]byte, len(sgxQuote))
	copy(out, sgxQuote)
	return out
}

// PCKCRLDER returns the DER encoded PCK CRL signed by the PCK Platform CA.
func PCKCRLDER() []byte {
	out := make([]byte, len(pckCRLDER))
	copy(out, pckCRLDER)
	return out
}

// RootCACRLDER returns the DER encoded Root CA CRL signed by the root CA.
// It is valid from PCSIssueDate for one month.
func RootCACRLDER() []byte {
	out := make([]byte, len(rootCACRLDER))
	copy(out, rootCACRLDER)
	return out
}

// PCKCRL returns the parsed PCK CRL.
func PCKCRL() *x509.RevocationList {
	crl, err := x509.ParseRevocationList(pckCRLDER)
	if err != nil {
		panic(err)
	}
	return crl
}

// CRLSigningCert returns the parsed PCK Platform CA certificate.
func CRLSigningCert() *x509.Certificate {
	block, _ := pem.Decode(CRLSigningCertPEM)
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		panic(err)
	}
	return cert
}

func init() {
	rootKey := mustGenerateKey()
	caKey := mustGenerateKey()
	pckKey := mustGenerateKey()
	tcbKey := mustGenerateKey()
	attKey := mustGenerateKey()

	rootCert := mustCreateCert(caTemplate("Intel SGX Root CA", 1), nil, rootKey, rootKey)
	caCert := mustCreateCert(caTemplate("Intel SGX PCK Platform CA", 2), rootCert, rootKey, caKey)
	tcbCert := mustCreateCert(leafTemplate("Intel SGX TCB Signing", 3, nil), rootCert, rootKey, tcbKey)
	pckCert := mustCreateCert(leafTemplate("Intel SGX PCK Certificate", 4, sgxExtension()), caCert, caKey, pckKey)

	CRLSigningCertPEM = pemEncode(caCert)
	TCBSigningCertPEM = pemEncode(tcbCert)
	RootCertPEM = pemEncode(rootCert)

	pckCRLDER = mustCreateCRL(caCert, caKey)
	rootCACRLDER = mustCreateCRL(rootCert, rootKey)

	pckChainPEM := append(pemEncode(pckCert), append(pemEncode(caCert), pemEncode(rootCert)...)...)
	pckChainPEM = append(pckChainPEM, 0x00) // Intel terminates the embedded chain with a NUL byte

	sgxQuote = buildQuote(attKey, pckKey, pckChainPEM)

	TCBInfoJSON = mustSignCollateral("tcbInfo", tcbInfoBody(), tcbKey)
	QEIdentityJSON = mustSignCollateral("enclaveIdentity", qeIdentityBody(), tcbKey)
}

// buildQuote assembles a raw SGX v3 quote. The quote signature is created with
// the attestation key, the QE report vouching for that key is signed with the
// PCK key, and the QE report data commits to the attestation key and auth data.
func buildQuote(attKey, pckKey *ecdsa.PrivateKey, pckChainPEM []byte) []byte {
	attPub := rawPublicKey(attKey)

	header := make([]byte, 48)
	binary.LittleEndian.PutUint16(header[0:2], 3)       // quote version
	binary.LittleEndian.PutUint16(header[2:4], 2)       // ECDSA-256 attestation key
	binary.LittleEndian.PutUint32(header[4:8], 0)       // TEE type SGX
	binary.LittleEndian.PutUint16(header[8:10], 10)     // QE SVN
	binary.LittleEndian.PutUint16(header[10:12], pceSVN)
	copy(header[12:28], qeVendorID[:])

	isvReportData := sha256.Sum256([]byte("attested workload"))
	isvReport := marshalEnclaveReport(enclaveReport{
		cpuSVN:     cpuSVN,
		attributes: [16]byte{0x07},
		mrenclave:  sha256.Sum256([]byte("enclave measurement")),
		mrsigner:   sha256.Sum256([]byte("enclave signer")),
		isvProdID:  42,
		isvSVN:     3,
		reportData: pad64(isvReportData[:]),
	})

	binding := sha256.Sum256(append(attPub[:], qeAuthData...))
	qeReport := marshalEnclaveReport(enclaveReport{
		cpuSVN:     cpuSVN,
		attributes: qeAttributes,
		mrenclave:  sha256.Sum256([]byte("quoting enclave measurement")),
		mrsigner:   qeMRSigner,
		isvProdID:  qeISVProdID,
		isvSVN:     qeISVSVN,
		reportData: pad64(binding[:]),
	})

	qeReportSig := sign(pckKey, qeReport)
	quoteSig := sign(attKey, append(append([]byte{}, header...), isvReport...))

	sigData := make([]byte, 0, 584+len(qeAuthData)+len(pckChainPEM))
	sigData = append(sigData, quoteSig[:]...)
	sigData = append(sigData, attPub[:]...)
	sigData = append(sigData, qeReport...)
	sigData = append(sigData, qeReportSig[:]...)
	sigData = binary.LittleEndian.AppendUint16(sigData, uint16(len(qeAuthData)))
	sigData = append(sigData, qeAuthData...)
	sigData = binary.LittleEndian.AppendUint16(sigData, 5) // PCK_ID_PCK_CERT_CHAIN
	sigData = binary.LittleEndian.AppendUint32(sigData, uint32(len(pckChainPEM)))
	sigData = append(sigData, pckChainPEM...)

	quote := make([]byte, 0, 436+len(sigData))
	quote = append(quote, header...)
	quote = append(quote, isvReport...)
	quote = binary.LittleEndian.AppendUint32(quote, uint32(len(sigData)))
	quote = append(quote, sigData...)
	return quote
}

type enclaveReport struct {
	cpuSVN     [16]byte
	miscSelect uint32
	attributes [16]byte
	mrenclave  [32]byte
	mrsigner   [32]byte
	isvProdID  uint16
	isvSVN     uint16
	reportData [64]byte
}

func marshalEnclaveReport(r enclaveReport) []byte {
	out := make([]byte, 384)
	copy(out[0:16], r.cpuSVN[:])
	binary.LittleEndian.PutUint32(out[16:20], r.miscSelect)
	copy(out[48:64], r.attributes[:])
	copy(out[64:96], r.mrenclave[:])
	copy(out[128:160], r.mrsigner[:])
	binary.LittleEndian.PutUint16(out[256:258], r.isvProdID)
	binary.LittleEndian.PutUint16(out[258:260], r.isvSVN)
	copy(out[320:384], r.reportData[:])
	return out
}

// tcbInfoBody builds the inner TCB Info document. Levels are listed in
// descending order, newest first, the way the PCS returns them. The platform
// identified by the PCK certificate fixture satisfies the first level.
func tcbInfoBody() any {
	return map[string]any{
		"id":                      "SGX",
		"version":                 3,
		"issueDate":               issueDate,
		"nextUpdate":              nextUpdate,
		"fmspc":                   hex.EncodeToString(fmspc[:]),
		"pceid":                   hex.EncodeToString(pceID[:]),
		"tcbType":                 0,
		"tcbEvaluationDataNumber": 15,
		"tcbLevels": []any{
			platformLevel([16]uint8{12, 12, 3, 3, 255, 255, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 13, "UpToDate"),
			platformLevel([16]uint8{10, 10, 3, 3, 255, 255, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 11, "SWHardeningNeeded"),
			platformLevel([16]uint8{6, 6, 2, 2, 255, 255, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 10, "ConfigurationNeeded"),
			platformLevel([16]uint8{4, 4, 2, 2, 128, 128, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 5, "OutOfDate"),
		},
	}
}

func platformLevel(svns [16]uint8, pcesvn uint16, status string) any {
	components := make([]map[string]any, 16)
	for i, svn := range svns {
		components[i] = map[string]any{"svn": svn}
	}
	return map[string]any{
		"tcb": map[string]any{
			"sgxtcbcomponents": components,
			"pcesvn":           pcesvn,
		},
		"tcbDate":   tcbDate,
		"tcbStatus": status,
	}
}

// qeIdentityBody builds the inner QE Identity document matching the QE report
// embedded in the quote fixture.
func qeIdentityBody() any {
	return map[string]any{
		"id":                      "QE",
		"version":                 2,
		"issueDate":               issueDate,
		"nextUpdate":              nextUpdate,
		"tcbEvaluationDataNumber": 15,
		"miscselect":              miscSelectHex,
		"miscselectMask":          miscSelMaskHex,
		"attributes":              attributesHex,
		"attributesMask":          attrMaskHex,
		"mrSigner":                hex.EncodeToString(qeMRSigner[:]),
		"isvprodid":               qeISVProdID,
		"tcbLevels": []any{
			qeLevel(8, "UpToDate"),
			qeLevel(6, "OutOfDate"),
			qeLevel(1, "Revoked"),
		},
	}
}

func qeLevel(isvsvn uint16, status string) any {
	return map[string]any{
		"tcb":       map[string]any{"isvsvn": isvsvn},
		"tcbDate":   tcbDate,
		"tcbStatus": status,
	}
}

// mustSignCollateral wraps a collateral body in the signed PCS response
// envelope. The signature covers the exact serialized bytes of the body.
func mustSignCollateral(field string, body any, key *ecdsa.PrivateKey) []byte {
	inner, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	sig := sign(key, inner)

	envelope, err := json.Marshal(map[string]json.RawMessage{
		field:       inner,
		"signature": mustMarshalJSON(hex.EncodeToString(sig[:])),
	})
	if err != nil {
		panic(err)
	}
	return envelope
}

/*
SGX PCK certificate extension (OID 1.2.840.113741.1.13.1)

The ASN.1 structures below mirror Intel's PCK Certificate Specification:
a sequence of (OID, value) pairs for PPID, TCB, PCEID, FMSPC, SGX Type,
Platform Instance ID, and Configuration.
*/

type extOctetString struct {
	Oid   asn1.ObjectIdentifier
	Value []byte
}

type extInteger struct {
	Oid   asn1.ObjectIdentifier
	Value int
}

type extBoolean struct {
	Oid   asn1.ObjectIdentifier
	Value bool
}

type extEnumerated struct {
	Oid   asn1.ObjectIdentifier
	Value asn1.Enumerated
}

type extTCB struct {
	Oid   asn1.ObjectIdentifier
	Value extTCBComponents
}

type extTCBComponents struct {
	Comp01SVN extInteger
	Comp02SVN extInteger
	Comp03SVN extInteger
	Comp04SVN extInteger
	Comp05SVN extInteger
	Comp06SVN extInteger
	Comp07SVN extInteger
	Comp08SVN extInteger
	Comp09SVN extInteger
	Comp10SVN extInteger
	Comp11SVN extInteger
	Comp12SVN extInteger
	Comp13SVN extInteger
	Comp14SVN extInteger
	Comp15SVN extInteger
	Comp16SVN extInteger
	PCESVN    extInteger
	CPUSVN    extOctetString
}

type extConfiguration struct {
	Oid   asn1.ObjectIdentifier
	Value extConfigurationOptions
}

type extConfigurationOptions struct {
	DynamicPlatform extBoolean
	CachedKeys      extBoolean
	SMTEnabled      extBoolean
}

type sgxExtensionValue struct {
	PPID               extOctetString
	TCB                extTCB
	PCEID              extOctetString
	FMSPC              extOctetString
	SGXType            extEnumerated
	PlatformInstanceID extOctetString
	Configuration      extConfiguration
}

func sgxOID(suffix ...int) asn1.ObjectIdentifier {
	return append(asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1}, suffix...)
}

// sgxExtension builds the DER encoded SGX extension for the PCK certificate
// fixture, carrying the platform identity the collateral fixtures expect.
func sgxExtension() []byte {
	tcb := extTCBComponents{
		PCESVN: extInteger{sgxOID(2, 17), int(pceSVN)},
		CPUSVN: extOctetString{sgxOID(2, 18), cpuSVN[:]},
	}
	comps := []*extInteger{
		&tcb.Comp01SVN, &tcb.Comp02SVN, &tcb.Comp03SVN, &tcb.Comp04SVN,
		&tcb.Comp05SVN, &tcb.Comp06SVN, &tcb.Comp07SVN, &tcb.Comp08SVN,
		&tcb.Comp09SVN, &tcb.Comp10SVN, &tcb.Comp11SVN, &tcb.Comp12SVN,
		&tcb.Comp13SVN, &tcb.Comp14SVN, &tcb.Comp15SVN, &tcb.Comp16SVN,
	}
	for i, comp := range comps {
		// each component SVN mirrors the matching CPUSVN byte
		*comp = extInteger{sgxOID(2, i+1), int(cpuSVN[i])}
	}

	ppid := sha256.Sum256([]byte("platform provisioning id"))
	platformID := sha256.Sum256([]byte("platform instance"))

	der, err := asn1.Marshal(sgxExtensionValue{
		PPID:               extOctetString{sgxOID(1), ppid[:16]},
		TCB:                extTCB{sgxOID(2), tcb},
		PCEID:              extOctetString{sgxOID(3), pceID[:]},
		FMSPC:              extOctetString{sgxOID(4), fmspc[:]},
		SGXType:            extEnumerated{sgxOID(5), 1},
		PlatformInstanceID: extOctetString{sgxOID(6), platformID[:16]},
		Configuration: extConfiguration{sgxOID(7), extConfigurationOptions{
			DynamicPlatform: extBoolean{sgxOID(7, 1), true},
			CachedKeys:      extBoolean{sgxOID(7, 2), true},
			SMTEnabled:      extBoolean{sgxOID(7, 3), true},
		}},
	})
	if err != nil {
		panic(err)
	}
	return der
}

func caTemplate(commonName string, serial int64) *x509.Certificate {
	template := leafTemplate(commonName, serial, nil)
	template.IsCA = true
	template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	return template
}

func leafTemplate(commonName string, serial int64, sgxExt []byte) *x509.Certificate {
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"Intel Corporation"},
			Locality:     []string{"Santa Clara"},
			Province:     []string{"CA"},
			Country:      []string{"US"},
		},
		NotBefore:             time.Date(2018, 5, 21, 0, 0, 0, 0, time.UTC),
		NotAfter:              time.Date(2049, 12, 31, 23, 59, 59, 0, time.UTC),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	if sgxExt != nil {
		template.ExtraExtensions = []pkix.Extension{{
			Id:    sgxOID(),
			Value: sgxExt,
		}}
	}
	return template
}

func mustCreateCert(template, parent *x509.Certificate, parentKey, key *ecdsa.PrivateKey) *x509.Certificate {
	if parent == nil {
		parent = template
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, parentKey)
	if err != nil {
		panic(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		panic(err)
	}
	return cert
}

func mustCreateCRL(issuer *x509.Certificate, key *ecdsa.PrivateKey) []byte {
	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: PCSIssueDate,
		NextUpdate: PCSIssueDate.AddDate(0, 1, 0),
		RevokedCertificates: []pkix.RevokedCertificate{
			{SerialNumber: big.NewInt(0x4242), RevocationTime: PCSIssueDate},
		},
	}, issuer, key)
	if err != nil {
		panic(err)
	}
	return der
}

func pemEncode(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func mustGenerateKey() *ecdsa.PrivateKey {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	return key
}

// rawPublicKey serializes a P-256 public key to the 32 byte X || 32 byte Y
// form embedded in SGX quotes.
func rawPublicKey(key *ecdsa.PrivateKey) [64]byte {
	var out [64]byte
	key.PublicKey.X.FillBytes(out[:32])
	key.PublicKey.Y.FillBytes(out[32:])
	return out
}

// sign creates a raw (r || s) ECDSA signature over the SHA-256 digest of data.
func sign(key *ecdsa.PrivateKey, data []byte) [64]byte {
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		panic(err)
	}
	var sig [64]byte
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig
}

func pad64(data []byte) [64]byte {
	var out [64]byte
	copy(out[:], data)
	return out
}

func mustHex(s string) []byte {
	out, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return out
}

func mustHex32(s string) [32]byte {
	out := mustHex(s)
	if len(out) != 32 {
		panic(fmt.Sprintf("expected 32 bytes, got %d", len(out)))
	}
	return [32]byte(out)
}

func mustMarshalJSON(v any) json.RawMessage {
	out, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return out
}

package types

import (
	"encoding/binary"
)

// Marshal serializes an SGX v3 quote header (SGXQuote3Header) into its binary representation found in a raw quote.
func (qh *SGXQuote3Header) Marshal() [48]byte {
	version := make([]byte, 2)
	attestationKeyType := make([]byte, 2)
	teeType := make([]byte, 4)
	qeSVN := make([]byte, 2)
	pceSVN := make([]byte, 2)
	binary.LittleEndian.PutUint16(version, qh.Version)
	binary.LittleEndian.PutUint16(attestationKeyType, qh.AttestationKeyType)
	binary.LittleEndian.PutUint32(teeType, qh.TEEType)
	binary.LittleEndian.PutUint16(qeSVN, qh.QESVN)
	binary.LittleEndian.PutUint16(pceSVN, qh.PCESVN)

	var result [48]byte
	copy(result[0:2], version)
	copy(result[2:4], attestationKeyType)
	copy(result[4:8], teeType)
	copy(result[8:10], qeSVN)
	copy(result[10:12], pceSVN)
	copy(result[12:28], qh.QEVendorID[:])
	copy(result[28:48], qh.UserData[:])

	return result
}

// Marshal serializes an EnclaveReport to its binary representation found in a raw quote.
func (er *EnclaveReport) Marshal() [384]byte {
	miscSelect := make([]byte, 4)
	isvProdID := make([]byte, 2)
	isvSVN := make([]byte, 2)
	binary.LittleEndian.PutUint32(miscSelect, er.MiscSelect)
	binary.LittleEndian.PutUint16(isvProdID, er.ISVProdID)
	binary.LittleEndian.PutUint16(isvSVN, er.ISVSVN)

	var result [384]byte
	copy(result[0:16], er.CPUSVN[:])
	copy(result[16:20], miscSelect)
	copy(result[20:48], er.Reserved1[:])
	copy(result[48:64], er.Attributes[:])
	copy(result[64:96], er.MRENCLAVE[:])
	copy(result[96:128], er.Reserved2[:])
	copy(result[128:160], er.MRSIGNER[:])
	copy(result[160:256], er.Reserved3[:])
	copy(result[256:258], isvProdID)
	copy(result[258:260], isvSVN)
	copy(result[260:320], er.Reserved4[:])
	copy(result[320:384], er.ReportData[:])

	return result
}

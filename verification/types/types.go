/*
# SGX Attestation Data Types

This package contains data types and parsing functions used for SGX DCAP attestation.

## SGX Quote Format (v3)

	To give a *rough* understanding of how an SGX ECDSA v3 quote is formed see the graphic below:


	        SGXQuote3                              ECDSA256QuoteV3AuthData
	        ParseQuote              ┌───────────►      parseSignature
	┌─────────────────────────┐     │     ┌───────────────────────────────────────────┐
	│     SGXQuote3Header     │     │     │                Signature                  │
	│       (48 bytes)        │     │     │                (64 bytes)                 │
	├─────────────────────────┤     │     ├───────────────────────────────────────────┤
	│                         │     │     │                PublicKey                  │
	│       ISVReport         │     │     │     (64 bytes, raw attestation key)       │
	│     (EnclaveReport)     │     │     ├───────────────────────────────────────────┤
	│       (384 bytes)       │     │     │                QEReport                   │
	│                         │     │     │         (EnclaveReport, 384 bytes)        │
	├─────────────────────────┤     │     ├───────────────────────────────────────────┤
	│     SignatureLength     │     │     │            QEReportSignature              │
	│        (4 bytes)        │     │     │                (64 bytes)                 │
	├─────────────────────────┤     │     ├───────────────────────────────────────────┤
	│                         │     │     │                QEAuthData                 │
	│                         │     │     │  ┌─────────────────────────────────────┐  │
	│       Signature         │     │     │  │      ParsedDataSize (2 bytes)       │  │
	│ ECDSA256QuoteV3AuthData ├─────┘     │  │         Data (variable)             │  │
	│       (variable)        │           │  └─────────────────────────────────────┘  │
	│                         │           ├───────────────────────────────────────────┤
	│                         │           │             CertificationData             │
	└─────────────────────────┘           │  ┌─────────────────────────────────────┐  │
	                                      │  │           Type (2 bytes)            │  │
	                                      │  │                                     │  │
	                                      │  │             type == 5               │  │
	                                      │  │       PCK_ID_PCK_CERT_CHAIN         │  │
	                                      │  ├─────────────────────────────────────┤  │
	                                      │  │      ParsedDataSize (4 bytes)       │  │
	                                      │  ├─────────────────────────────────────┤  │
	                                      │  │          Data (variable)            │  │
	                                      │  │                                     │  │
	                                      │  │  PEM encoded PCK certificate chain  │  │
	                                      │  │      terminated with a \0 byte      │  │
	                                      │  └─────────────────────────────────────┘  │
	                                      │                                           │
	                                      └───────────────────────────────────────────┘
*/
package types

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
	"github.com/edgelesssys/go-sgx-qvl/verification"
	"github.com/edgelesssys/go-sgx-qvl/verification/types"
)

func main() {
	if err := testVerify(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// testVerify verifies a quote read from the file given as first argument using
// live collateral from Intel's PCS. Without arguments, the built-in quote is
// verified offline against the matching collateral blobs.
func testVerify() error {
	verifier, err := verification.New()
	if err != nil {
		return err
	}

	var result verification.VerificationResult
	if len(os.Args) > 1 {
		rawQuote, err := os.ReadFile(os.Args[1])
		if err != nil {
			return err
		}
		result, err = verifier.Verify(context.Background(), rawQuote)
		if err != nil {
			return err
		}
	} else {
		rawQuote := blobs.SGXQuote()
		quote, err := types.ParseQuote(rawQuote)
		if err != nil {
			return err
		}
		certChain, err := verification.ParsePCKCertChain(quote)
		if err != nil {
			return err
		}
		if err := verifier.VerifyPCKCert(certChain[0], blobs.CRLSigningCert(), blobs.PCKCRL()); err != nil {
			return err
		}

		var tcbInfo types.TCBInfo
		if err := unwrapCollateral(blobs.TCBInfoJSON, "tcbInfo", &tcbInfo); err != nil {
			return err
		}
		var qeIdentity types.QEIdentity
		if err := unwrapCollateral(blobs.QEIdentityJSON, "enclaveIdentity", &qeIdentity); err != nil {
			return err
		}

		result, err = verifier.VerifyQuote(rawQuote, certChain[0], tcbInfo, qeIdentity)
		if err != nil {
			return err
		}
	}

	fmt.Printf("Verification successful, TCB status: %s\n", result.TCBStatus)
	return nil
}

func unwrapCollateral(signed []byte, field string, out any) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(signed, &envelope); err != nil {
		return err
	}
	return json.Unmarshal(envelope[field], out)
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
	"github.com/edgelesssys/go-sgx-qvl/verification/types"
)

func main() {
	if err := parseBlob(); err != nil {
		panic(err)
	}
}

func parseBlob() error {
	rawQuote := blobs.SGXQuote()
	if len(os.Args) > 1 {
		var err error
		rawQuote, err = os.ReadFile(os.Args[1])
		if err != nil {
			return err
		}
	}

	parsedQuote, err := types.ParseQuote(rawQuote)
	if err != nil {
		return err
	}

	prettyPrint, err := json.MarshalIndent(parsedQuote, "", " ")
	if err != nil {
		return err
	}

	fmt.Println(string(prettyPrint))

	return nil
}

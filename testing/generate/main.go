package main

import (
	"fmt"
	"log"
	"os"

	"github.com/edgelesssys/go-sgx-qvl/sgx"
)

func main() {
	if err := testSGX(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func testSGX() error {
	reportData := []byte("Hello from Edgeless Systems!")
	quote, err := sgx.GenerateQuote(reportData)
	if err != nil {
		return err
	}

	if err := os.WriteFile("quote", quote, 0o644); err != nil {
		return err
	}
	log.Println("Successfully written quote")

	return nil
}

// Command enclave is the process that runs inside the Nitro enclave: it
// generates a signing key, listens for vsock connections from the host, and
// dispatches the typed request protocol until the enclave is terminated.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/mdlayher/vsock"
	"github.com/spf13/cobra"

	"github.com/nitroproof/tee-prover/internal/attestation"
	"github.com/nitroproof/tee-prover/internal/enclavesrv"
	"github.com/nitroproof/tee-prover/internal/protocol"
	"github.com/nitroproof/tee-prover/internal/proverengine"
)

type enclaveFlags struct {
	port            uint32
	cid             uint32
	encKeyARN       string
	debug           bool
	protocolVersion uint32
}

func main() {
	flags := &enclaveFlags{}

	cmd := &cobra.Command{
		Use:   "enclave",
		Short: "Runs the TEE co-processor's enclave-side dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnclave(flags)
		},
	}

	cmd.Flags().Uint32Var(&flags.port, "port", protocol.EnclavePort, "vsock port to listen on")
	cmd.Flags().Uint32Var(&flags.cid, "cid", protocol.EnclaveCID, "vsock CID this enclave is assigned")
	cmd.Flags().StringVar(&flags.encKeyARN, "enc-key-arn", "", "reserved: KMS ARN for the sealed-key continuity flow (unused on the hot path)")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "echo Print requests to the enclave console")
	cmd.Flags().Uint32Var(&flags.protocolVersion, "protocol-version", 1, "version tag embedded in every attestation's user_data")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runEnclave(flags *enclaveFlags) error {
	logger := log.New(os.Stdout, "enclave: ", log.LstdFlags|log.Lmicroseconds)

	if flags.encKeyARN != "" {
		logger.Printf("sealed-key continuity ARN configured (reserved, unused): %s", flags.encKeyARN)
	}

	dispatcher, err := enclavesrv.New(enclavesrv.Config{
		Attester:        attestation.NSMProducer{},
		Engine:          proverengine.FibonacciEngine{},
		Debug:           flags.debug,
		ProtocolVersion: flags.protocolVersion,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("enclave: build dispatcher: %w", err)
	}

	addr := dispatcher.Address()
	logger.Printf("signing key ready, address 0x%x", addr)

	listener, err := vsock.Listen(flags.port, nil)
	if err != nil {
		return fmt.Errorf("enclave: listen on vsock port %d: %w", flags.port, err)
	}
	defer listener.Close()

	logger.Printf("listening on vsock CID %d port %d", flags.cid, flags.port)
	return dispatcher.Serve(listener)
}

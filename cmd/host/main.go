// Command host is the parent-instance process: it exposes the HTTP
// execution gateway to clients, drives the enclave over vsock, and
// periodically republishes the enclave's attestation to the object store.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mdlayher/vsock"
	"github.com/spf13/cobra"

	"github.com/nitroproof/tee-prover/internal/hostgateway"
	"github.com/nitroproof/tee-prover/internal/objectstore"
	"github.com/nitroproof/tee-prover/internal/protocol"
	"github.com/nitroproof/tee-prover/internal/publisher"
)

type hostFlags struct {
	port              uint32
	address           string
	enclaveCID        uint32
	enclaveCores      uint32
	enclaveMemoryMiB  uint32
	debug             bool
	proverNetworkURL  string
	rpcURL            string
	privateKey        string
	bucket            string
	whitelist         string
	pcr0              string
	protocolVersion   uint32
}

func main() {
	flags := &hostFlags{}

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Runs the TEE co-processor's host-side execution gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(flags)
		},
	}

	cmd.Flags().Uint32Var(&flags.port, "port", 8080, "HTTP port for the execution gateway")
	cmd.Flags().StringVar(&flags.address, "address", "0.0.0.0", "HTTP bind address")
	cmd.Flags().Uint32Var(&flags.enclaveCID, "enclave-cid", protocol.EnclaveCID, "vsock CID of the running enclave")
	cmd.Flags().Uint32Var(&flags.enclaveCores, "enclave-cores", 2, "CPU cores allocated to the enclave (echoed at startup, deployment is out of scope)")
	cmd.Flags().Uint32Var(&flags.enclaveMemoryMiB, "enclave-memory", 4096, "memory in MiB allocated to the enclave (echoed at startup, deployment is out of scope)")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "relax production safety checks (refused when built with -tags production)")
	cmd.Flags().StringVar(&flags.proverNetworkURL, "prover-network-url", "", "external prover network endpoint (stored, never dialed; out of scope)")
	cmd.Flags().StringVar(&flags.rpcURL, "rpc-url", "", "chain RPC endpoint for the on-chain registry (stored, never dialed; out of scope)")
	cmd.Flags().StringVar(&flags.privateKey, "private-key", "", "deployment signing key (stored, never used on the request hot path; out of scope)")
	cmd.Flags().StringVar(&flags.bucket, "bucket", "", "S3 bucket used as the attestation object store")
	cmd.Flags().StringVar(&flags.whitelist, "whitelist", "", "comma-separated 0x-addresses authorized to call /execute in production")
	cmd.Flags().StringVar(&flags.pcr0, "pcr0", "", "expected enclave PCR0 measurement, hex, used to validate /signers entries")
	cmd.Flags().Uint32Var(&flags.protocolVersion, "protocol-version", 1, "protocol version expected in attestation user_data")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runHost(flags *hostFlags) error {
	logger := log.New(os.Stdout, "host: ", log.LstdFlags|log.Lmicroseconds)

	if flags.debug && buildIsProduction {
		return fmt.Errorf("host: --debug is not permitted in a production build")
	}

	if flags.proverNetworkURL != "" {
		logger.Printf("prover network URL configured (unused on hot path): %s", flags.proverNetworkURL)
	}
	if flags.rpcURL != "" {
		logger.Printf("chain RPC URL configured (unused on hot path): %s", flags.rpcURL)
	}
	if flags.privateKey != "" {
		logger.Printf("deployment signing key configured (unused on hot path)")
	}
	logger.Printf("enclave topology: CID %d, %d cores, %d MiB", flags.enclaveCID, flags.enclaveCores, flags.enclaveMemoryMiB)

	ctx := context.Background()

	store, err := buildStore(ctx, flags, logger)
	if err != nil {
		return err
	}

	dial := func(ctx context.Context) (net.Conn, error) {
		return vsock.Dial(flags.enclaveCID, protocol.EnclavePort, nil)
	}

	auth, err := buildAuthenticator(flags, logger)
	if err != nil {
		return err
	}

	gw := &hostgateway.Gateway{
		Dial:            dial,
		Auth:            auth,
		Store:           store,
		Production:      buildIsProduction,
		ProtocolVersion: flags.protocolVersion,
		PCR0:            flags.pcr0,
		Logger:          logger,
	}

	pub := &publisher.Publisher{
		Dial:   publisher.Dialer(dial),
		Store:  store,
		Logger: logger,
	}
	pubCtx, cancelPub := context.WithCancel(ctx)
	defer cancelPub()
	go pub.Run(pubCtx)

	addr := fmt.Sprintf("%s:%d", flags.address, flags.port)
	logger.Printf("execution gateway listening on %s", addr)
	return http.ListenAndServe(addr, gw.Router())
}

func buildStore(ctx context.Context, flags *hostFlags, logger *log.Logger) (objectstore.Store, error) {
	if flags.bucket == "" {
		logger.Printf("no --bucket configured, falling back to an in-memory attestation store")
		return objectstore.NewMemStore(), nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("host: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &objectstore.S3Store{Client: client, Bucket: flags.bucket}, nil
}

func buildAuthenticator(flags *hostFlags, logger *log.Logger) (hostgateway.Authenticator, error) {
	if flags.whitelist == "" {
		if buildIsProduction {
			logger.Printf("warning: production build with an empty --whitelist; every /execute call will be rejected")
		}
		return hostgateway.StaticWhitelist{}, nil
	}

	whitelist := hostgateway.StaticWhitelist{}
	for _, raw := range strings.Split(flags.whitelist, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		trimmed := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
		decoded, err := hex.DecodeString(trimmed)
		if err != nil || len(decoded) != 20 {
			return nil, fmt.Errorf("host: invalid whitelist address %q", raw)
		}
		var addr [20]byte
		copy(addr[:], decoded)
		whitelist[addr] = true
	}
	return whitelist, nil
}

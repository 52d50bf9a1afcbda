// Package publisher periodically re-attests the enclave's signing key and
// publishes the resulting attestation document to an object store, keyed by
// the signing key's derived address.
package publisher

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/nitroproof/tee-prover/internal/identity"
	"github.com/nitroproof/tee-prover/internal/objectstore"
	"github.com/nitroproof/tee-prover/internal/protocol"
)

// Dialer opens a fresh connection to the enclave for one publication cycle.
type Dialer func(ctx context.Context) (net.Conn, error)

const (
	// DefaultInitialDelay staggers the first publication after process start,
	// giving the enclave time to finish booting and generating its key.
	DefaultInitialDelay = 10 * time.Second
	// DefaultInterval is the steady-state re-attestation cadence.
	DefaultInterval = 30 * time.Minute
	// DefaultBackoff is how long to wait before retrying after a failed
	// publication, instead of waiting a full Interval.
	DefaultBackoff = 5 * time.Second
)

// Publisher drives the re-attestation loop.
type Publisher struct {
	Dial         Dialer
	Store        objectstore.Store
	InitialDelay time.Duration
	Interval     time.Duration
	Backoff      time.Duration
	Logger       *log.Logger
}

func (p *Publisher) logger() *log.Logger {
	if p.Logger == nil {
		return log.Default()
	}
	return p.Logger
}

func (p *Publisher) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return DefaultInterval
}

func (p *Publisher) backoff() time.Duration {
	if p.Backoff > 0 {
		return p.Backoff
	}
	return DefaultBackoff
}

func (p *Publisher) initialDelay() time.Duration {
	if p.InitialDelay > 0 {
		return p.InitialDelay
	}
	return DefaultInitialDelay
}

// Run blocks, publishing on the configured cadence until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	timer := time.NewTimer(p.initialDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := p.PublishOnce(ctx); err != nil {
			p.logger().Printf("publisher: publication failed, retrying in %s: %v", p.backoff(), err)
			timer.Reset(p.backoff())
			continue
		}

		timer.Reset(p.interval())
	}
}

// PublishOnce performs one attestation-and-publish cycle: open a session,
// request a fresh attestation document over the current signing key,
// request the public key, derive the address, and upload the attestation
// under that address. It always closes the session before returning.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	conn, err := p.Dial(ctx)
	if err != nil {
		return fmt.Errorf("publisher: dial enclave: %w", err)
	}
	stream := protocol.NewStream(conn)
	defer func() {
		if err := stream.Send(protocol.NewCloseSessionRequest()); err != nil {
			p.logger().Printf("publisher: best-effort CloseSession failed: %v", err)
		}
		_ = stream.Close()
	}()

	if err := stream.SendCtx(ctx, protocol.NewAttestSigningKeyRequest()); err != nil {
		return fmt.Errorf("publisher: send AttestSigningKey: %w", err)
	}
	attestResp, err := stream.RecvResponseCtx(ctx)
	if err != nil {
		return fmt.Errorf("publisher: recv AttestSigningKey response: %w", err)
	}
	if attestResp.Kind != protocol.KindSigningKeyAttestation {
		return fmt.Errorf("publisher: unexpected response to AttestSigningKey: %s", attestResp.Kind)
	}

	if err := stream.SendCtx(ctx, protocol.NewGetPublicKeyRequest()); err != nil {
		return fmt.Errorf("publisher: send GetPublicKey: %w", err)
	}
	pubResp, err := stream.RecvResponseCtx(ctx)
	if err != nil {
		return fmt.Errorf("publisher: recv GetPublicKey response: %w", err)
	}
	if pubResp.Kind != protocol.KindPublicKey {
		return fmt.Errorf("publisher: unexpected response to GetPublicKey: %s", pubResp.Kind)
	}

	addr, err := identity.DeriveAddress(pubResp.PublicKey)
	if err != nil {
		return fmt.Errorf("publisher: derive address: %w", err)
	}

	key := "0x" + hex.EncodeToString(addr[:])
	if err := p.Store.Put(ctx, key, attestResp.SigningKeyAttestation); err != nil {
		return fmt.Errorf("publisher: store attestation for %s: %w", key, err)
	}

	p.logger().Printf("publisher: published attestation for %s", key)
	return nil
}

// Package hostgateway implements the host-side HTTP execution gateway: it
// authenticates client requests, enforces a host-wide one-execution-at-a-
// time invariant, and streams a single result event back over a long-lived
// HTTP response.
package hostgateway

import (
	"context"
	"log"
	"net"

	"github.com/nitroproof/tee-prover/internal/protocol"
)

// Dialer opens a fresh connection to the enclave. In production this dials
// vsock; tests substitute a dialer pointed at an in-process listener.
type Dialer func(ctx context.Context) (net.Conn, error)

// Session wraps a protocol.Stream for the lifetime of one request (or one
// attestation cycle). It is created per use and MUST send CloseSession
// before dropping; Close does so best-effort, ignoring any error, since the
// enclave side may already be gone.
type Session struct {
	stream *protocol.Stream
	logger *log.Logger
}

// NewSession dials the enclave and wraps the resulting connection.
func NewSession(ctx context.Context, dial Dialer, logger *log.Logger) (*Session, error) {
	conn, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Session{stream: protocol.NewStream(conn), logger: logger}, nil
}

func (s *Session) Send(ctx context.Context, req protocol.EnclaveRequest) error {
	return s.stream.SendCtx(ctx, req)
}

func (s *Session) Recv(ctx context.Context) (protocol.EnclaveResponse, error) {
	return s.stream.RecvResponseCtx(ctx)
}

// Close best-effort-sends CloseSession so the enclave's per-connection
// worker exits, then closes the underlying connection. Errors sending
// CloseSession are ignored: the peer may already be gone, e.g. because the
// client disconnected and cancelled our context.
func (s *Session) Close() {
	if err := s.stream.Send(protocol.NewCloseSessionRequest()); err != nil {
		s.logger.Printf("hostgateway: best-effort CloseSession failed: %v", err)
	}
	_ = s.stream.Close()
}

package enclavesrv

import (
	"context"
	"errors"
	"net"

	"github.com/nitroproof/tee-prover/internal/protocol"
)

// connection drives a single accepted vsock connection through the
// dispatcher's state machine: Ready -> Handling_i -> Ready -> ... -> Closed.
// It processes requests strictly in arrival order and produces exactly one
// response per request, except for CloseSession, after which it drops the
// connection without replying.
type connection struct {
	d      *Dispatcher
	stream *protocol.Stream
}

func newConnection(d *Dispatcher, conn net.Conn) *connection {
	return &connection{d: d, stream: protocol.NewStream(conn)}
}

func (c *connection) run() {
	defer c.stream.Close()

	for {
		req, err := c.stream.Recv()
		if err != nil {
			// Bad serialization or peer hangup: the framing may be
			// desynchronized, so we drop the connection rather than try to
			// recover mid-stream.
			c.d.logger.Printf("enclavesrv: connection closed: %v", err)
			return
		}

		if req.Kind == protocol.KindCloseSession {
			return
		}

		resp := c.handle(req)
		if err := c.stream.Send(resp); err != nil {
			c.d.logger.Printf("enclavesrv: failed to send response: %v", err)
			return
		}
	}
}

func (c *connection) handle(req protocol.EnclaveRequest) protocol.EnclaveResponse {
	switch req.Kind {
	case protocol.KindPrint:
		if c.d.debug {
			c.d.logger.Printf("enclave console: %s", req.PrintText)
		}
		return protocol.NewAckResponse()

	case protocol.KindGetPublicKey:
		c.d.keyMu.RLock()
		pub := c.d.identity.PublicKeySEC1()
		c.d.keyMu.RUnlock()
		return protocol.NewPublicKeyResponse(pub)

	case protocol.KindAttestSigningKey:
		return c.handleAttest()

	case protocol.KindExecute:
		return c.handleExecute(req.Execute)

	case protocol.KindGetEncryptedSigningKey, protocol.KindSetSigningKey:
		// Reserved for an unimplemented sealed-key continuity flow. The
		// wire variants stay in place; we never delete them.
		return protocol.NewErrorResponse("not implemented")

	default:
		return protocol.NewErrorResponse("unknown request kind")
	}
}

func (c *connection) handleAttest() protocol.EnclaveResponse {
	if c.d.attester == nil {
		return protocol.NewErrorResponse("attestation producer not configured")
	}
	c.d.keyMu.RLock()
	pub := c.d.identity.PublicKeySEC1()
	c.d.keyMu.RUnlock()

	doc, err := c.d.attester.Attest(pub, c.d.protocolVersion())
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}
	return protocol.NewSigningKeyAttestationResponse(doc)
}

var errCycleLimitOverBound = errors.New("enclavesrv: cycle_limit exceeds MaxAllowedCycles")

func (c *connection) handleExecute(req *protocol.ExecuteRequest) protocol.EnclaveResponse {
	if req == nil {
		return protocol.NewErrorResponse("malformed execute request")
	}
	if req.CycleLimit > protocol.MaxAllowedCycles {
		return protocol.NewErrorResponse(errCycleLimitOverBound.Error())
	}

	c.d.execMu.Lock()
	defer c.d.execMu.Unlock()

	result, err := c.d.engine.Execute(context.Background(), req.Program, req.Stdin, req.CycleLimit)
	if err != nil {
		return protocol.NewErrorResponse("Failed to execute program: " + err.Error())
	}

	c.d.keyMu.RLock()
	key := c.d.identity.SigningKey()
	c.d.keyMu.RUnlock()

	signed, err := signResult(key, result.Vkey, result.PublicValues)
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}

	return protocol.NewSignedPublicValuesResponse(signed)
}

package hostgateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"

	"github.com/nitroproof/tee-prover/internal/attestation"
	"github.com/nitroproof/tee-prover/internal/identity"
	"github.com/nitroproof/tee-prover/internal/objectstore"
	"github.com/nitroproof/tee-prover/internal/protocol"
)

// Maximum size, in bytes, of the program or stdin a client may submit. A
// pathologically large program/stdin is rejected early with 413 rather than
// tying up the execution mutex only to fail inside the enclave.
const maxProgramOrStdinBytes = 64 * 1024 * 1024

// Gateway is the host's execution gateway: one value shared across every
// HTTP request goroutine, carrying the execution mutex, the enclave dialer,
// the authenticator, and the object store of published attestations.
type Gateway struct {
	Dial            Dialer
	Auth            Authenticator
	Store           objectstore.Store
	Production      bool
	ProtocolVersion uint32
	PCR0            string
	Logger          *log.Logger

	executionMu sync.Mutex

	addrMu     sync.RWMutex
	haveAddr   bool
	cachedAddr [20]byte
}

func (g *Gateway) logger() *log.Logger {
	if g.Logger == nil {
		return log.Default()
	}
	return g.Logger
}

// Router builds the chi router exposing POST /execute, GET /address, and
// GET /signers.
func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/execute", g.handleExecute)
	r.Get("/address", g.handleAddress)
	r.Get("/signers", g.handleSigners)
	return r
}

// Address returns the enclave's current derived address, fetching and
// caching it from the enclave on first use.
func (g *Gateway) Address(ctx context.Context) ([20]byte, error) {
	g.addrMu.RLock()
	if g.haveAddr {
		addr := g.cachedAddr
		g.addrMu.RUnlock()
		return addr, nil
	}
	g.addrMu.RUnlock()

	sess, err := NewSession(ctx, g.Dial, g.logger())
	if err != nil {
		return [20]byte{}, fmt.Errorf("hostgateway: connect to enclave: %w", err)
	}
	defer sess.Close()

	if err := sess.Send(ctx, protocol.NewGetPublicKeyRequest()); err != nil {
		return [20]byte{}, fmt.Errorf("hostgateway: send GetPublicKey: %w", err)
	}
	resp, err := sess.Recv(ctx)
	if err != nil {
		return [20]byte{}, fmt.Errorf("hostgateway: recv GetPublicKey response: %w", err)
	}
	if resp.Kind != protocol.KindPublicKey {
		return [20]byte{}, fmt.Errorf("hostgateway: unexpected response to GetPublicKey: %s", resp.Kind)
	}

	addr, err := identity.DeriveAddress(resp.PublicKey)
	if err != nil {
		return [20]byte{}, fmt.Errorf("hostgateway: derive address: %w", err)
	}

	g.addrMu.Lock()
	g.cachedAddr = addr
	g.haveAddr = true
	g.addrMu.Unlock()

	return addr, nil
}

func (g *Gateway) handleAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := g.Address(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Address string `json:"address"`
	}{Address: "0x" + hex.EncodeToString(addr[:])})
}

func (g *Gateway) handleSigners(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keys, err := g.Store.List(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var signers [][20]byte
	for _, key := range keys {
		rawAddr, err := hex.DecodeString(trimHexPrefix(key))
		if err != nil || len(rawAddr) != 20 {
			g.logger().Printf("hostgateway: skipping malformed object key %q", key)
			continue
		}
		var expected [20]byte
		copy(expected[:], rawAddr)

		doc, err := g.Store.Get(ctx, key)
		if err != nil {
			g.logger().Printf("hostgateway: failed to fetch attestation %q: %v", key, err)
			continue
		}

		_, err = attestation.Verify(doc, attestation.VerifyParams{
			ExpectedPCR0:    g.PCR0,
			ExpectedVersion: g.ProtocolVersion,
			ExpectedAddress: expected,
		})
		switch {
		case err == nil:
			signers = append(signers, expected)
		case errors.Is(err, attestation.ErrVersionMismatch):
			// Cross-version signer: silently skipped, not a failure.
		default:
			g.logger().Printf("hostgateway: attestation for %q failed verification: %v", key, err)
		}
	}

	body, err := cbor.Marshal(signers)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(body)
}

func (g *Gateway) handleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var req TEERequest
	if err := cbor.Unmarshal(body, &req); err != nil {
		http.Error(w, "failed to decode TEERequest", http.StatusBadRequest)
		return
	}

	if len(req.Program) > maxProgramOrStdinBytes {
		http.Error(w, fmt.Sprintf("program is too large, found %d bytes", len(req.Program)), http.StatusRequestEntityTooLarge)
		return
	}
	if len(req.Stdin) > maxProgramOrStdinBytes {
		http.Error(w, fmt.Sprintf("stdin is too large, found %d bytes", len(req.Stdin)), http.StatusRequestEntityTooLarge)
		return
	}

	if g.Production {
		signer, err := req.RecoverSigner()
		if err != nil {
			http.Error(w, "failed to recover signer", http.StatusBadRequest)
			return
		}
		ok, err := g.Auth.IsWhitelisted(ctx, signer)
		if err != nil || !ok {
			http.Error(w, "signer is not whitelisted", http.StatusUnauthorized)
			return
		}
	}

	payload, status := g.execute(ctx, req)

	encoded, err := cbor.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(status)

	fmt.Fprintf(w, "data: %s\n\n", hex.EncodeToString(encoded))
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// execute owns the full request lifecycle against the enclave: acquire the
// host execution mutex, open a fresh vsock session, send Execute, translate
// the single response into an EventPayload, and release the mutex and
// session on every exit path.
func (g *Gateway) execute(ctx context.Context, req TEERequest) (EventPayload, int) {
	g.executionMu.Lock()
	defer g.executionMu.Unlock()

	sess, err := NewSession(ctx, g.Dial, g.logger())
	if err != nil {
		return errorPayload("failed to connect to enclave"), http.StatusInternalServerError
	}
	defer sess.Close()

	execReq := protocol.NewExecuteRequest(req.Program, req.Stdin, req.CycleLimit)
	if err := sess.Send(ctx, execReq); err != nil {
		return errorPayload("failed to send request to enclave"), http.StatusInternalServerError
	}

	resp, err := sess.Recv(ctx)
	if err != nil {
		return errorPayload("failed to receive response from enclave"), http.StatusInternalServerError
	}

	switch resp.Kind {
	case protocol.KindSignedPublicValues:
		sv := resp.SignedPublicValues
		teeResp := TEEResponse{
			Vkey:         sv.Vkey,
			PublicValues: sv.PublicValues,
			Signature:    sv.Signature,
			RecoveryID:   sv.RecoveryID + 27,
		}
		return successPayload(teeResp), http.StatusOK

	case protocol.KindError:
		return errorPayload("Failed to execute program: " + resp.ErrorText), http.StatusInternalServerError

	default:
		return errorPayload("unexpected response from enclave"), http.StatusInternalServerError
	}
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

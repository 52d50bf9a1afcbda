package hostgateway

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitroproof/tee-prover/internal/enclavesrv"
	"github.com/nitroproof/tee-prover/internal/objectstore"
	"github.com/nitroproof/tee-prover/internal/proverengine"
)

func readJSON(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

type stubAttester struct{}

func (stubAttester) Attest(pubKeySEC1 []byte, version uint32) ([]byte, error) {
	return append([]byte{byte(version)}, pubKeySEC1...), nil
}

// newTestEnclave starts an in-process dispatcher and returns a Dialer that
// connects to it, standing in for a vsock dial in tests.
func newTestEnclave(t *testing.T, engine proverengine.Engine) Dialer {
	t.Helper()
	d, err := enclavesrv.New(enclavesrv.Config{Attester: stubAttester{}, Engine: engine, ProtocolVersion: 7})
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go d.Serve(l) //nolint:errcheck
	t.Cleanup(func() { _ = l.Close() })

	addr := l.Addr().String()
	return func(ctx context.Context) (net.Conn, error) {
		var dialer net.Dialer
		return dialer.DialContext(ctx, "tcp", addr)
	}
}

func stdinU32(n uint32) []byte {
	b := make([]byte, 4)
	b[0] = byte(n)
	b[1] = byte(n >> 8)
	b[2] = byte(n >> 16)
	b[3] = byte(n >> 24)
	return b
}

func signedExecuteBody(t *testing.T, key []byte, program, stdin []byte, cycleLimit uint32) []byte {
	t.Helper()
	priv, err := crypto.ToECDSA(key)
	require.NoError(t, err)

	req := TEERequest{Program: program, Stdin: stdin, CycleLimit: cycleLimit}
	digest := crypto.Keccak256(req.ID[:])
	sig, err := crypto.Sign(digest, priv)
	require.NoError(t, err)
	copy(req.Signature[:], sig)

	body, err := cbor.Marshal(req)
	require.NoError(t, err)
	return body
}

func decodeSSE(t *testing.T, body []byte) EventPayload {
	t.Helper()
	const prefix = "data: "
	s := strings.TrimSpace(string(body))
	require.True(t, strings.HasPrefix(s, prefix), "unexpected SSE body: %q", s)
	raw, err := hex.DecodeString(strings.TrimSpace(s[len(prefix):]))
	require.NoError(t, err)

	var payload EventPayload
	require.NoError(t, cbor.Unmarshal(raw, &payload))
	return payload
}

func testKey(t *testing.T) []byte {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return crypto.FromECDSA(priv)
}

func TestExecuteHappyPathNonProduction(t *testing.T) {
	gw := &Gateway{
		Dial:       newTestEnclave(t, proverengine.FibonacciEngine{}),
		Auth:       AllowAll{},
		Store:      objectstore.NewMemStore(),
		Production: false,
	}
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	key := testKey(t)
	body := signedExecuteBody(t, key, []byte("fib"), stdinU32(10), 1_000_000)

	resp, err := http.Post(srv.URL+"/execute", "application/cbor", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	payload := decodeSSE(t, buf.Bytes())
	require.Equal(t, EventSuccess, payload.Kind)
	require.NotNil(t, payload.Response)
	assert.NotZero(t, payload.Response.RecoveryID)
}

func TestExecuteUnauthorizedInProduction(t *testing.T) {
	gw := &Gateway{
		Dial:       newTestEnclave(t, proverengine.FibonacciEngine{}),
		Auth:       StaticWhitelist{},
		Store:      objectstore.NewMemStore(),
		Production: true,
	}
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	key := testKey(t)
	body := signedExecuteBody(t, key, []byte("fib"), stdinU32(10), 1_000_000)

	resp, err := http.Post(srv.URL+"/execute", "application/cbor", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExecuteWhitelistedSignerInProduction(t *testing.T) {
	key := testKey(t)
	priv, err := crypto.ToECDSA(key)
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(priv.PublicKey)

	gw := &Gateway{
		Dial:       newTestEnclave(t, proverengine.FibonacciEngine{}),
		Auth:       StaticWhitelist{addr: true},
		Store:      objectstore.NewMemStore(),
		Production: true,
	}
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	body := signedExecuteBody(t, key, []byte("fib"), stdinU32(10), 1_000_000)
	resp, err := http.Post(srv.URL+"/execute", "application/cbor", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExecuteProverExhaustionReturnsErrorPayload(t *testing.T) {
	gw := &Gateway{
		Dial:       newTestEnclave(t, proverengine.FibonacciEngine{}),
		Auth:       AllowAll{},
		Store:      objectstore.NewMemStore(),
		Production: false,
	}
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	key := testKey(t)
	body := signedExecuteBody(t, key, []byte("fib"), stdinU32(100), 1)

	resp, err := http.Post(srv.URL+"/execute", "application/cbor", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	payload := decodeSSE(t, buf.Bytes())
	assert.Equal(t, EventError, payload.Kind)
	assert.NotEmpty(t, payload.Error)
}

func TestExecuteOversizeProgramRejected(t *testing.T) {
	gw := &Gateway{
		Dial:       newTestEnclave(t, proverengine.FibonacciEngine{}),
		Auth:       AllowAll{},
		Store:      objectstore.NewMemStore(),
		Production: false,
	}
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	key := testKey(t)
	body := signedExecuteBody(t, key, make([]byte, maxProgramOrStdinBytes+1), stdinU32(1), 1)

	resp, err := http.Post(srv.URL+"/execute", "application/cbor", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestExecuteMalformedBodyRejected(t *testing.T) {
	gw := &Gateway{
		Dial:       newTestEnclave(t, proverengine.FibonacciEngine{}),
		Auth:       AllowAll{},
		Store:      objectstore.NewMemStore(),
		Production: false,
	}
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/execute", "application/cbor", bytes.NewReader([]byte{0xff, 0xff}))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddressEndpoint(t *testing.T) {
	gw := &Gateway{
		Dial:  newTestEnclave(t, proverengine.FibonacciEngine{}),
		Auth:  AllowAll{},
		Store: objectstore.NewMemStore(),
	}
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/address")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Address string `json:"address"`
	}
	require.NoError(t, readJSON(resp, &out))
	assert.True(t, strings.HasPrefix(out.Address, "0x"))
	assert.Len(t, out.Address, 42)
}

// TestSignersEndpointSkipsUnverifiableAttestations exercises the failure
// paths of /signers: a malformed object key and a garbage attestation
// document (not a valid COSE_Sign1 structure) are both excluded from the
// result rather than surfacing as a 500.
func TestSignersEndpointSkipsUnverifiableAttestations(t *testing.T) {
	store := objectstore.NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "not-hex", []byte("x")))

	garbageAddr := [20]byte{4, 5, 6}
	require.NoError(t, store.Put(ctx, "0x"+hex.EncodeToString(garbageAddr[:]), []byte("not a COSE document")))

	gw := &Gateway{
		Dial:            newTestEnclave(t, proverengine.FibonacciEngine{}),
		Auth:            AllowAll{},
		Store:           store,
		ProtocolVersion: 7,
		PCR0:            "aa",
	}
	srv := httptest.NewServer(gw.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/signers")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	var signers [][20]byte
	require.NoError(t, cbor.Unmarshal(buf.Bytes(), &signers))
	assert.Empty(t, signers)
}

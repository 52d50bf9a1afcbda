// Package enclavesrv implements the enclave-side request dispatcher: it
// owns the signing key, accepts vsock connections, routes the typed request
// protocol, and serializes memory-heavy prover executions behind a single
// execution mutex.
package enclavesrv

import (
	"log"
	"net"
	"sync"

	"github.com/nitroproof/tee-prover/internal/attestation"
	"github.com/nitroproof/tee-prover/internal/identity"
	"github.com/nitroproof/tee-prover/internal/proverengine"
)

// Dispatcher owns the enclave's identity and coordinates incoming
// connections. It is safe for concurrent use; each accepted connection runs
// on its own goroutine.
type Dispatcher struct {
	logger *log.Logger

	identity *identity.Identity
	keyMu    sync.RWMutex // guards reads of the signing key during Execute/GetPublicKey

	attester attestation.Producer
	engine   proverengine.Engine
	execMu   *execMutex

	debug   bool
	version uint32
}

// Config configures a Dispatcher.
type Config struct {
	Attester        attestation.Producer
	Engine          proverengine.Engine
	Debug           bool
	ProtocolVersion uint32
	Logger          *log.Logger
}

// New builds a Dispatcher with a freshly generated signing key.
func New(cfg Config) (*Dispatcher, error) {
	id, err := identity.New()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		logger:   logger,
		identity: id,
		attester: cfg.Attester,
		engine:   cfg.Engine,
		execMu:   newExecMutex(),
		debug:    cfg.Debug,
		version:  cfg.ProtocolVersion,
	}, nil
}

// Address returns the enclave's current derived address.
func (d *Dispatcher) Address() [20]byte {
	return d.identity.Address()
}

func (d *Dispatcher) protocolVersion() uint32 {
	return d.version
}

// Serve accepts connections on l until it returns an error (including on
// listener close). Each connection is handled on its own goroutine and runs
// until CloseSession, peer hangup, or an unrecoverable transport error.
func (d *Dispatcher) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		c := newConnection(d, conn)
		go c.run()
	}
}

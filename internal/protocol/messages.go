package protocol

// RequestKind identifies the variant of an EnclaveRequest without revealing
// its payload, for diagnostic and logging purposes.
type RequestKind uint8

const (
	KindPrint RequestKind = iota + 1
	KindGetPublicKey
	KindAttestSigningKey
	KindExecute
	KindGetEncryptedSigningKey
	KindSetSigningKey
	KindCloseSession
)

func (k RequestKind) String() string {
	switch k {
	case KindPrint:
		return "Print"
	case KindGetPublicKey:
		return "GetPublicKey"
	case KindAttestSigningKey:
		return "AttestSigningKey"
	case KindExecute:
		return "Execute"
	case KindGetEncryptedSigningKey:
		return "GetEncryptedSigningKey"
	case KindSetSigningKey:
		return "SetSigningKey"
	case KindCloseSession:
		return "CloseSession"
	default:
		return "Unknown"
	}
}

// ResponseKind identifies the variant of an EnclaveResponse.
type ResponseKind uint8

const (
	KindPublicKey ResponseKind = iota + 1
	KindSigningKeyAttestation
	KindEncryptedSigningKey
	KindSignedPublicValues
	KindError
	KindAck
)

func (k ResponseKind) String() string {
	switch k {
	case KindPublicKey:
		return "PublicKey"
	case KindSigningKeyAttestation:
		return "SigningKeyAttestation"
	case KindEncryptedSigningKey:
		return "EncryptedSigningKey"
	case KindSignedPublicValues:
		return "SignedPublicValues"
	case KindError:
		return "Error"
	case KindAck:
		return "Ack"
	default:
		return "Unknown"
	}
}

// ExecuteRequest carries a one-shot program execution.
type ExecuteRequest struct {
	Program    []byte `cbor:"program"`
	Stdin      []byte `cbor:"stdin"`
	CycleLimit uint32 `cbor:"cycle_limit"`
}

// SetSigningKeyRequest is reserved for the (unimplemented) sealed-key
// continuity flow. The dispatcher always answers it with an error.
type SetSigningKeyRequest struct {
	EncryptedKey []byte `cbor:"encrypted_key"`
}

// EnclaveRequest is the tagged union of messages the host (or any peer) sends
// to the enclave dispatcher. At most one payload field is populated,
// according to Kind; kinds without a payload populate none.
type EnclaveRequest struct {
	Kind          RequestKind           `cbor:"kind"`
	PrintText     string                `cbor:"print_text,omitempty"`
	Execute       *ExecuteRequest       `cbor:"execute,omitempty"`
	SetSigningKey *SetSigningKeyRequest `cbor:"set_signing_key,omitempty"`
}

func (r EnclaveRequest) TypeName() string { return r.Kind.String() }

func NewPrintRequest(text string) EnclaveRequest {
	return EnclaveRequest{Kind: KindPrint, PrintText: text}
}

func NewGetPublicKeyRequest() EnclaveRequest {
	return EnclaveRequest{Kind: KindGetPublicKey}
}

func NewAttestSigningKeyRequest() EnclaveRequest {
	return EnclaveRequest{Kind: KindAttestSigningKey}
}

func NewExecuteRequest(program, stdin []byte, cycleLimit uint32) EnclaveRequest {
	return EnclaveRequest{
		Kind:    KindExecute,
		Execute: &ExecuteRequest{Program: program, Stdin: stdin, CycleLimit: cycleLimit},
	}
}

func NewGetEncryptedSigningKeyRequest() EnclaveRequest {
	return EnclaveRequest{Kind: KindGetEncryptedSigningKey}
}

func NewSetSigningKeyRequest(encryptedKey []byte) EnclaveRequest {
	return EnclaveRequest{
		Kind:          KindSetSigningKey,
		SetSigningKey: &SetSigningKeyRequest{EncryptedKey: encryptedKey},
	}
}

func NewCloseSessionRequest() EnclaveRequest {
	return EnclaveRequest{Kind: KindCloseSession}
}

// SignedPublicValues is returned by a successful Execute.
type SignedPublicValues struct {
	Vkey         [32]byte `cbor:"vkey"`
	PublicValues []byte   `cbor:"public_values"`
	Signature    [64]byte `cbor:"signature"`
	RecoveryID   uint8    `cbor:"recovery_id"`
}

// EnclaveResponse is the tagged union of messages the enclave sends back.
type EnclaveResponse struct {
	Kind                  ResponseKind         `cbor:"kind"`
	PublicKey             []byte               `cbor:"public_key,omitempty"`
	SigningKeyAttestation []byte               `cbor:"attestation,omitempty"`
	EncryptedSigningKey   []byte               `cbor:"encrypted_signing_key,omitempty"`
	SignedPublicValues    *SignedPublicValues  `cbor:"signed_public_values,omitempty"`
	ErrorText             string               `cbor:"error_text,omitempty"`
}

func (r EnclaveResponse) TypeName() string { return r.Kind.String() }

func NewPublicKeyResponse(pub []byte) EnclaveResponse {
	return EnclaveResponse{Kind: KindPublicKey, PublicKey: pub}
}

func NewSigningKeyAttestationResponse(doc []byte) EnclaveResponse {
	return EnclaveResponse{Kind: KindSigningKeyAttestation, SigningKeyAttestation: doc}
}

func NewEncryptedSigningKeyResponse(doc []byte) EnclaveResponse {
	return EnclaveResponse{Kind: KindEncryptedSigningKey, EncryptedSigningKey: doc}
}

func NewSignedPublicValuesResponse(v SignedPublicValues) EnclaveResponse {
	return EnclaveResponse{Kind: KindSignedPublicValues, SignedPublicValues: &v}
}

func NewErrorResponse(text string) EnclaveResponse {
	return EnclaveResponse{Kind: KindError, ErrorText: text}
}

func NewAckResponse() EnclaveResponse {
	return EnclaveResponse{Kind: KindAck}
}

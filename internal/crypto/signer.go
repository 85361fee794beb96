package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Scheme identifies a signature scheme.
type Scheme string

const ECDSA_SECP256K1 Scheme = "ecdsa_secp256k1"

// Signer signs 32-byte message hashes with a node account key.
type Signer interface {
	Sign(msgHash []byte) ([]byte, error)
	Scheme() Scheme
	PublicKey() []byte
	Address() common.Address
}

// ECDSASigner signs with a secp256k1 private key.
type ECDSASigner struct {
	priv *ecdsa.PrivateKey
	addr common.Address
}

// NewECDSASigner wraps an existing private key.
func NewECDSASigner(priv *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{priv: priv, addr: gethcrypto.PubkeyToAddress(priv.PublicKey)}
}

// NewECDSASignerFromHex creates a signer from a hex-encoded private key,
// with or without a 0x prefix.
func NewECDSASignerFromHex(keyHex string) (*ECDSASigner, error) {
	keyHex = strings.TrimPrefix(keyHex, "0x")
	priv, err := gethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewECDSASigner(priv), nil
}

// GenerateSigner creates a signer with a fresh random key. Intended for
// development mode and tests.
func GenerateSigner() (*ECDSASigner, error) {
	priv, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewECDSASigner(priv), nil
}

func (s *ECDSASigner) Sign(msgHash []byte) ([]byte, error) {
	if len(msgHash) != 32 {
		return nil, fmt.Errorf("message hash must be 32 bytes, got %d", len(msgHash))
	}
	return gethcrypto.Sign(msgHash, s.priv)
}

func (s *ECDSASigner) Scheme() Scheme { return ECDSA_SECP256K1 }

func (s *ECDSASigner) PublicKey() []byte {
	return gethcrypto.FromECDSAPub(&s.priv.PublicKey)
}

// Address returns the account address derived from the public key.
func (s *ECDSASigner) Address() common.Address { return s.addr }

// VerifySignature checks a signature produced by Sign against the signer's
// recovered address.
func VerifySignature(addr common.Address, msgHash, sig []byte) bool {
	if len(sig) < 64 {
		return false
	}
	pub, err := gethcrypto.SigToPub(msgHash, sig)
	if err != nil {
		return false
	}
	return gethcrypto.PubkeyToAddress(*pub) == addr
}

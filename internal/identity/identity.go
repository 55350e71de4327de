package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"filedrop/internal/model"
)

type (
	// Provider supplies the local elliptic-curve keypair and performs
	// ECDH and signing on demand. The private key stays inside the
	// implementation.
	Provider interface {
		PublicKey() []byte
		KeyPair() model.KeyPair
		ECDH(peerPub []byte) ([]byte, error)
		Sign(message []byte) ([]byte, error)
	}

	// Local is a Provider backed by an in-process secp256k1 key.
	Local struct {
		priv *btcec.PrivateKey
	}
)

// New generates a fresh local identity.
func New() (*Local, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	return &Local{priv: priv}, nil
}

// FromHex restores an identity from a hex-encoded 32-byte private key.
func FromHex(s string) (*Local, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return &Local{priv: priv}, nil
}

// LoadOrCreate reads a hex key file, generating and writing one if the
// file does not exist yet.
func LoadOrCreate(path string) (*Local, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return FromHex(string(data))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	id, err := New()
	if err != nil {
		return nil, err
	}
	encoded := hex.EncodeToString(id.priv.Serialize())
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return id, nil
}

// PublicKey returns the compressed 33-byte point.
func (l *Local) PublicKey() []byte {
	return l.priv.PubKey().SerializeCompressed()
}

func (l *Local) KeyPair() model.KeyPair {
	return model.KeyPair{
		PublicKey:  l.PublicKey(),
		PrivateKey: l.priv.Serialize(),
	}
}

// ECDH returns the shared secret with a peer's 33- or 65-byte point.
func (l *Local) ECDH(peerPub []byte) ([]byte, error) {
	pub, err := btcec.ParsePubKey(peerPub)
	if err != nil {
		return nil, fmt.Errorf("parse peer public key: %w", err)
	}
	return btcec.GenerateSharedSecret(l.priv, pub), nil
}

// Sign produces a DER-encoded ECDSA signature over SHA-256(message).
func (l *Local) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig := ecdsa.Sign(l.priv, digest[:])
	return sig.Serialize(), nil
}

package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"

	"filedrop/internal/cryptographic/kdf"
)

// Self-describing encrypted-payload format. Wire layout, little-endian,
// length fields first:
//
//	[u32 pubKeyLen][pubKey][u32 ivLen][iv][ciphertext...]
//
// The ephemeral public key is a compressed (33 byte) or uncompressed
// (65 byte) secp256k1 point; the iv is the 12-byte AES-GCM nonce.

const (
	// NonceSize is the AEAD nonce length carried in the iv field.
	NonceSize = 12

	// minWireSize is the smallest input Deserialize will look at: the
	// two u32 length prefixes.
	minWireSize = 8

	// heuristicMinSize keeps IsLikelyEncrypted from classifying tiny
	// plaintext files as ciphertext.
	heuristicMinSize = 100
)

var hkdfInfo = []byte("filedrop-envelope-v1")

var (
	// ErrInvalidEnvelope means the bytes are not a structurally valid
	// envelope. No decryption was attempted.
	ErrInvalidEnvelope = errors.New("invalid envelope encoding")

	// ErrDecryption means the envelope parsed but could not be opened:
	// wrong recipient key, corrupted data, or a tampered field. Distinct
	// from ErrInvalidEnvelope so callers can tell "wrong key" from
	// "not an envelope".
	ErrDecryption = errors.New("decryption failed")
)

type (
	// Metadata travels inside the AEAD alongside the plaintext, so it
	// shares the envelope's tamper protection.
	Metadata struct {
		Filename string `json:"filename,omitempty"`
		MimeType string `json:"mime_type,omitempty"`
	}

	Envelope struct {
		EphemeralPublicKey []byte
		IV                 []byte
		Ciphertext         []byte
	}
)

// Encrypt seals plaintext and metadata for the holder of recipientPub
// (a 33- or 65-byte secp256k1 point). A fresh ephemeral keypair is
// generated per call and its private half discarded, so each envelope
// is forward secret on its own.
func Encrypt(recipientPub, plaintext []byte, meta Metadata) (*Envelope, error) {
	pub, err := btcec.ParsePubKey(recipientPub)
	if err != nil {
		return nil, fmt.Errorf("parse recipient public key: %w", err)
	}

	eph, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	key, err := deriveKey(eph, pub)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("rand.Read nonce: %w", err)
	}

	inner, err := packInner(plaintext, meta)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		EphemeralPublicKey: eph.PubKey().SerializeCompressed(),
		IV:                 iv,
		Ciphertext:         aead.Seal(nil, iv, inner, nil),
	}, nil
}

// Decrypt opens an envelope with the recipient's 32-byte private key.
// Any failure past structural parsing is reported as ErrDecryption: a
// tampered point, nonce or ciphertext all authenticate-fail the same
// way, and the caller cannot distinguish them anyway.
func Decrypt(recipientPriv []byte, env *Envelope) ([]byte, Metadata, error) {
	if len(recipientPriv) != 32 {
		return nil, Metadata{}, fmt.Errorf("private key must be 32 bytes, got %d", len(recipientPriv))
	}
	if len(env.IV) != NonceSize {
		return nil, Metadata{}, fmt.Errorf("%w: iv length %d", ErrDecryption, len(env.IV))
	}

	priv, _ := btcec.PrivKeyFromBytes(recipientPriv)

	eph, err := btcec.ParsePubKey(env.EphemeralPublicKey)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: ephemeral key: %v", ErrDecryption, err)
	}

	key, err := deriveKey(priv, eph)
	if err != nil {
		return nil, Metadata{}, err
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, Metadata{}, err
	}

	if len(env.Ciphertext) < aead.Overhead() {
		return nil, Metadata{}, fmt.Errorf("%w: ciphertext shorter than tag", ErrDecryption)
	}

	inner, err := aead.Open(nil, env.IV, env.Ciphertext, nil)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return unpackInner(inner)
}

// Serialize encodes an envelope into the wire layout above.
func Serialize(env *Envelope) []byte {
	out := make([]byte, 0, 8+len(env.EphemeralPublicKey)+len(env.IV)+len(env.Ciphertext))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(env.EphemeralPublicKey)))
	out = append(out, env.EphemeralPublicKey...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(env.IV)))
	out = append(out, env.IV...)
	out = append(out, env.Ciphertext...)
	return out
}

// Deserialize parses the wire layout. It enforces structural bounds
// only; whether the point and nonce are usable is Decrypt's problem.
func Deserialize(data []byte) (*Envelope, error) {
	if len(data) < minWireSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidEnvelope, len(data))
	}

	pubKeyLen := uint64(binary.LittleEndian.Uint32(data))
	ivOff := 4 + pubKeyLen
	if ivOff+4 > uint64(len(data)) {
		return nil, fmt.Errorf("%w: public key length %d out of bounds", ErrInvalidEnvelope, pubKeyLen)
	}

	ivLen := uint64(binary.LittleEndian.Uint32(data[ivOff:]))
	ctOff := ivOff + 4 + ivLen
	if ctOff > uint64(len(data)) {
		return nil, fmt.Errorf("%w: iv length %d out of bounds", ErrInvalidEnvelope, ivLen)
	}

	return &Envelope{
		EphemeralPublicKey: data[4:ivOff],
		IV:                 data[ivOff+4 : ctOff],
		Ciphertext:         data[ctOff:],
	}, nil
}

// IsLikelyEncrypted reports whether a downloaded payload looks like an
// envelope, so plaintext files are not fed to Decrypt. Best effort: a
// crafted plaintext can false-positive, so a decryption failure on a
// likely-encrypted blob is inconclusive, not proof of corruption.
func IsLikelyEncrypted(data []byte) bool {
	if len(data) < heuristicMinSize {
		return false
	}
	pubKeyLen := uint64(binary.LittleEndian.Uint32(data))
	if pubKeyLen != 33 && pubKeyLen != 65 {
		return false
	}
	ivOff := 4 + pubKeyLen
	if ivOff+4 > uint64(len(data)) {
		return false
	}
	return binary.LittleEndian.Uint32(data[ivOff:]) == NonceSize
}

func deriveKey(priv *btcec.PrivateKey, pub *btcec.PublicKey) ([]byte, error) {
	secret := btcec.GenerateSharedSecret(priv, pub)
	key := make([]byte, 32)
	if _, err := kdf.HKDF(secret, nil, hkdfInfo, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// Inner AEAD payload: [u32 metaLen][metadata JSON][plaintext].
func packInner(plaintext []byte, meta Metadata) ([]byte, error) {
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	inner := make([]byte, 0, 4+len(metaBytes)+len(plaintext))
	inner = binary.LittleEndian.AppendUint32(inner, uint32(len(metaBytes)))
	inner = append(inner, metaBytes...)
	inner = append(inner, plaintext...)
	return inner, nil
}

func unpackInner(inner []byte) ([]byte, Metadata, error) {
	if len(inner) < 4 {
		return nil, Metadata{}, fmt.Errorf("%w: truncated payload", ErrDecryption)
	}
	metaLen := uint64(binary.LittleEndian.Uint32(inner))
	if 4+metaLen > uint64(len(inner)) {
		return nil, Metadata{}, fmt.Errorf("%w: metadata length out of bounds", ErrDecryption)
	}
	var meta Metadata
	if err := json.Unmarshal(inner[4:4+metaLen], &meta); err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: metadata: %v", ErrDecryption, err)
	}
	return inner[4+metaLen:], meta, nil
}

package model

type (
	// KeyPair is a secp256k1 keypair owned by the local account. The
	// private key never leaves the process.
	KeyPair struct {
		PublicKey  []byte `json:"public_key"`
		PrivateKey []byte `json:"-"`
	}
)

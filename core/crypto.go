package core

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/sha3"
)

// KeyPair holds a secp256k1 keypair and the Address derived from it. This is
// the sole signature scheme in play, per the one-scheme-at-a-time rule.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
	Address Address
}

// GenerateKeyPair creates a fresh random secp256k1 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return keyPairFromPrivate(priv), nil
}

// KeyPairFromPrivateKeyBytes reconstructs a keypair from a raw 32-byte
// secp256k1 scalar, e.g. loaded from a validator's key file.
func KeyPairFromPrivateKeyBytes(b []byte) (*KeyPair, error) {
	priv, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return keyPairFromPrivate(priv), nil
}

func keyPairFromPrivate(priv *ecdsa.PrivateKey) *KeyPair {
	return &KeyPair{
		Private: priv,
		Public:  &priv.PublicKey,
		Address: AddressFromPublicKey(&priv.PublicKey),
	}
}

// AddressFromPublicKey derives the 20-byte Address from a secp256k1 public
// key the same way the teacher derives EVM-style addresses: the low 20 bytes
// of the Keccak-256 hash of the uncompressed, unprefixed public key.
func AddressFromPublicKey(pub *ecdsa.PublicKey) Address {
	full := ethcrypto.PubkeyToAddress(*pub)
	var out Address
	copy(out[:], full[:])
	return out
}

// Sign produces a 65-byte recoverable ECDSA signature (r ‖ s ‖ v) over hash.
// hash must already be the 32-byte digest to sign, never raw message bytes.
func Sign(priv *ecdsa.PrivateKey, hash Hash) ([]byte, error) {
	sig, err := ethcrypto.Sign(hash[:], priv)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature over hash by the holder of
// the private key behind addr. It recovers the signer's public key from sig
// and compares the derived address, so no separate public-key storage is
// needed for verification.
func Verify(addr Address, hash Hash, sig []byte) (bool, error) {
	if len(sig) != 65 {
		return false, errors.New("crypto: signature must be 65 bytes")
	}
	pub, err := ethcrypto.SigToPub(hash[:], sig)
	if err != nil {
		return false, fmt.Errorf("crypto: recover pubkey: %w", err)
	}
	return AddressFromPublicKey(pub) == addr, nil
}

// Sum256 returns the SHA3-256 digest of data, the hash function used
// throughout the ledger model for tx_hash, block_hash, and Merkle nodes.
func Sum256(data []byte) Hash {
	var out Hash
	h := sha3.Sum256(data)
	copy(out[:], h[:])
	return out
}

// DeterministicKeyFromMnemonic derives a secp256k1 keypair from a BIP-39
// mnemonic and an account index, for reproducible devnet/testnet validator
// bootstrap where every node must derive the same well-known key set without
// exchanging key material out of band.
func DeterministicKeyFromMnemonic(mnemonic string, account uint32) (*KeyPair, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("crypto: invalid bip39 mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	material := Sum256(append(seed, encodeUint32BE(account)...))
	priv, err := ethcrypto.ToECDSA(material[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: derive key from seed: %w", err)
	}
	return keyPairFromPrivate(priv), nil
}

// NewDevMnemonic generates a fresh BIP-39 mnemonic suitable for seeding a
// devnet's well-known validator set.
func NewDevMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("crypto: entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("crypto: mnemonic: %w", err)
	}
	return mnemonic, nil
}

func encodeUint32BE(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

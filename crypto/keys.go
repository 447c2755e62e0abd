package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	gethcommon "github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Address represents a 20-byte ledger address, hex-encoded with a 0x prefix.
type Address struct {
	bytes []byte
}

func NewAddress(b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	return Address{bytes: b}
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a.bytes)
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Checksummed returns the EIP-55 mixed-case form expected by EVM nodes.
func (a Address) Checksummed() string {
	return gethcommon.BytesToAddress(a.bytes).Hex()
}

func DecodeAddress(addrStr string) (Address, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(addrStr), "0x")
	if len(trimmed) != 40 {
		return Address{}, fmt.Errorf("invalid address length %d", len(trimmed))
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("invalid hex address: %w", err)
	}
	return NewAddress(raw), nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(gethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return gethcrypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) Hex() string {
	return hex.EncodeToString(k.Bytes())
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the account address as the low-order 20 bytes of the
// Keccak-256 hash of the uncompressed public key.
func (k *PublicKey) Address() Address {
	addrBytes := gethcrypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return NewAddress(addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := gethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

func PrivateKeyFromHex(s string) (*PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex private key: %w", err)
	}
	return PrivateKeyFromBytes(raw)
}

// Keypair bundles the values persisted for a newly onboarded participant.
type Keypair struct {
	Address    string
	PrivateKey string
}

// GenerateKeypair returns a fresh random ledger identity. The private key is
// never logged; callers persist it through the participant record layer.
func GenerateKeypair() (Keypair, error) {
	key, err := GeneratePrivateKey()
	if err != nil {
		return Keypair{}, fmt.Errorf("generate ledger key: %w", err)
	}
	return Keypair{
		Address:    key.PubKey().Address().String(),
		PrivateKey: key.Hex(),
	}, nil
}

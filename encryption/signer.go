package encryption

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// KeySigner is a wallet backed by a local secp256k1 key. It signs EIP-191
// personal messages the way browser wallets do for personal_sign.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// LoadKeySigner reads a hex private key, either given inline or from path.
func LoadKeySigner(keyHex, path string) (*KeySigner, error) {
	if keyHex == "" && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read private key file")
		}
		keyHex = strings.TrimSpace(string(data))
	}

	if keyHex == "" {
		return nil, errors.New("no private key configured")
	}

	key, err := ParsePrivateKey(keyHex)
	if err != nil {
		return nil, err
	}

	return NewKeySigner(key), nil
}

func ParsePrivateKey(keyStr string) (*ecdsa.PrivateKey, error) {
	keyStr = strings.TrimPrefix(strings.TrimSpace(keyStr), "0x")

	keyBytes, err := hex.DecodeString(keyStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode private key hex string")
	}

	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}

	return key, nil
}

func (s *KeySigner) Address() (common.Address, bool) {
	if s == nil || s.key == nil {
		return common.Address{}, false
	}
	return s.address, true
}

// SignMessage returns a 65 byte [R || S || V] signature with V in {27, 28}.
func (s *KeySigner) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign message")
	}
	sig[crypto.RecoveryIDOffset] += 27

	return sig, nil
}

// RecoverSigner returns the address that produced a personal_sign signature
// over msg.
func RecoverSigner(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.Errorf("invalid signature length, %d", len(sig))
	}

	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(msg), normalized)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "failed to recover public key")
	}

	return crypto.PubkeyToAddress(*pub), nil
}

func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// HashLeaf is the token-holder leaf keccak256(address || uint256(balance)).
func HashLeaf(address common.Address, balance *big.Int) *big.Int {
	return new(big.Int).SetBytes(Keccak256(address.Bytes(), common.LeftPadBytes(balance.Bytes(), 32)))
}

// LeafIndex returns the position of leaf in leaves, or -1.
func LeafIndex(leaves []*big.Int, leaf *big.Int) int {
	for i := range leaves {
		if leaves[i] != nil && leaves[i].Cmp(leaf) == 0 {
			return i
		}
	}
	return -1
}

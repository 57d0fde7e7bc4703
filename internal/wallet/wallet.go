package wallet

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	bin "github.com/gagliardetto/binary"
	sdk "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/solflow/solflow/internal/solana"
)

// ---------------------------------------------------------------------------
// Wallet — key loading and transaction signing
// Private key material never appears in logs, errors, or config files.
// ---------------------------------------------------------------------------

// EnvKeyName is the environment variable holding the wallet key.
const EnvKeyName = "SOLFLOW_WALLET_KEY"

// Signer signs serialized transactions without exposing key material.
type Signer interface {
	// PublicKey returns the wallet's public key.
	PublicKey() solana.Pubkey

	// SignTransaction signs a base64-encoded unsigned transaction and
	// returns the signed transaction, base64-encoded.
	SignTransaction(txBase64 string) (string, error)
}

// LocalSigner holds an ed25519 keypair in memory.
type LocalSigner struct {
	priv sdk.PrivateKey
	pub  sdk.PublicKey
}

// Load resolves the wallet key from the environment, falling back to
// keyFile when the variable is unset. Exactly one source must yield a
// key; an empty result is an error, never a silently unsigned wallet.
func Load(keyFile string) (*LocalSigner, error) {
	if raw := os.Getenv(EnvKeyName); raw != "" {
		signer, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("wallet: %s: %w", EnvKeyName, err)
		}
		log.Info().Str("pubkey", string(signer.PublicKey())).Str("source", "env").Msg("wallet: loaded")
		return signer, nil
	}

	if keyFile == "" {
		return nil, fmt.Errorf("wallet: no key: set %s or configure a key file", EnvKeyName)
	}

	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("wallet: read key file: %w", err)
	}

	signer, err := Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("wallet: key file %s: %w", keyFile, err)
	}
	log.Info().Str("pubkey", string(signer.PublicKey())).Str("source", "file").Msg("wallet: loaded")
	return signer, nil
}

// Parse accepts a private key in any of the common encodings: base58
// (Phantom export), hex, or a JSON byte array (solana-keygen). A
// 32-byte input is treated as an ed25519 seed. Error messages never
// echo the input.
func Parse(raw string) (*LocalSigner, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty key")
	}

	// JSON byte array: [174,47,...]
	if strings.HasPrefix(raw, "[") {
		var bytes []byte
		if err := json.Unmarshal([]byte(raw), &bytes); err != nil {
			return nil, fmt.Errorf("malformed JSON key array")
		}
		return fromBytes(bytes)
	}

	// Hex: 64 chars (seed) or 128 chars (full key).
	if isHex(raw) && (len(raw) == 64 || len(raw) == 128) {
		bytes, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("malformed hex key")
		}
		return fromBytes(bytes)
	}

	// Base58.
	priv, err := sdk.PrivateKeyFromBase58(raw)
	if err != nil {
		return nil, fmt.Errorf("unrecognized key encoding")
	}
	return newSigner(priv)
}

func fromBytes(b []byte) (*LocalSigner, error) {
	switch len(b) {
	case ed25519.PrivateKeySize: // 64
		return newSigner(sdk.PrivateKey(b))
	case ed25519.SeedSize: // 32
		return newSigner(sdk.PrivateKey(ed25519.NewKeyFromSeed(b)))
	default:
		return nil, fmt.Errorf("key must be 32 or 64 bytes, got %d", len(b))
	}
}

func newSigner(priv sdk.PrivateKey) (*LocalSigner, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key length")
	}
	return &LocalSigner{priv: priv, pub: priv.PublicKey()}, nil
}

// PublicKey returns the wallet's public key.
func (s *LocalSigner) PublicKey() solana.Pubkey {
	return solana.Pubkey(s.pub.String())
}

// SignTransaction decodes, signs, and re-encodes a transaction. The
// unsigned payload comes from the swap builder already targeting this
// wallet as fee payer.
func (s *LocalSigner) SignTransaction(txBase64 string) (string, error) {
	rawTx, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("wallet: decode transaction: %w", err)
	}

	tx, err := sdk.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return "", fmt.Errorf("wallet: parse transaction: %w", err)
	}

	_, err = tx.Sign(func(key sdk.PublicKey) *sdk.PrivateKey {
		if key.Equals(s.pub) {
			return &s.priv
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("wallet: sign: %w", err)
	}

	signed, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("wallet: serialize transaction: %w", err)
	}

	return base64.StdEncoding.EncodeToString(signed), nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}

// ---------------------------------------------------------------------------
// Stub signer (for testing and dry-run)
// ---------------------------------------------------------------------------

// StubSigner returns payloads marked as signed without real key material.
type StubSigner struct {
	Pub solana.Pubkey
	Err error
}

// NewStubSigner creates a stub signer with a fixed public key.
func NewStubSigner() *StubSigner {
	return &StubSigner{Pub: solana.Pubkey("StubWa11et111111111111111111111111111111111")}
}

func (s *StubSigner) PublicKey() solana.Pubkey {
	return s.Pub
}

func (s *StubSigner) SignTransaction(txBase64 string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return "signed:" + txBase64, nil
}

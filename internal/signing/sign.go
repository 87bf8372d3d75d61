// Package signing implements the order-signing primitive described in
// spec §6: an opaque sign(order_fields, private_key) -> (r, s) over a
// fixed field layout, nonce generation in [1, 2^31), and asset-resolution
// amount scaling with buy-round-up/sell-round-down/fee-round-up.
//
// The exchange's real signer uses a STARK-curve signature; this module
// treats that as an opaque primitive and stands it up on the same
// ECDSA machinery the reference client used for its own signing (secp256k1
// via go-ethereum/crypto), matching input/output shape (private key in,
// (r, s) pair out) rather than committing to a specific curve.
package signing

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/crypto"

	"marketmaker/pkg/types"
)

// Signer holds the private key used to sign order payloads.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	publicKey  string
}

// NewSigner constructs a Signer from a hex-encoded private key (with or
// without a 0x prefix).
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := privateKeyHex
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	pk, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	pub := crypto.PubkeyToAddress(pk.PublicKey)
	return &Signer{privateKey: pk, publicKey: pub.Hex()}, nil
}

// PublicKey returns the signer's public identity, to be included verbatim
// in SignedOrderFields.PublicKey.
func (s *Signer) PublicKey() string {
	return s.publicKey
}

// Sign hashes the order fields' canonical byte layout and signs the
// digest, returning the opaque (r, s) pair.
func (s *Signer) Sign(fields types.SignedOrderFields) (types.Signature, error) {
	digest := hashFields(fields)
	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return types.Signature{}, fmt.Errorf("sign order fields: %w", err)
	}
	r := new(big.Int).SetBytes(sig[:32])
	sVal := new(big.Int).SetBytes(sig[32:64])
	return types.Signature{R: r.String(), S: sVal.String()}, nil
}

// hashFields builds a deterministic digest over every field that spec §6
// requires to be included verbatim in the signature.
func hashFields(f types.SignedOrderFields) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, []byte(f.SyntheticAssetID)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(f.CollateralAssetID)...)
	buf = append(buf, 0)
	buf = appendInt64(buf, f.BaseAmountSigned)
	buf = appendInt64(buf, f.QuoteAmountSigned)
	buf = appendInt64(buf, f.FeeAmount)
	buf = append(buf, []byte(f.PositionID)...)
	buf = append(buf, 0)
	buf = appendUint32(buf, f.Nonce)
	buf = appendInt64(buf, f.ExpiryMs)
	buf = append(buf, []byte(f.PublicKey)...)
	buf = append(buf, 0)
	buf = appendInt64(buf, f.DomainChainID)
	return crypto.Keccak256(buf)
}

func appendInt64(buf []byte, v int64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// NonceSource produces strictly increasing nonces in [1, 2^31), the range
// and total-order requirement spec §6/§9 impose: each value is
// seconds-since-epoch at construction time plus an atomically incremented
// counter (mod 1000), bounded below 2^31. Safe for concurrent use.
type NonceSource struct {
	epoch   int64
	counter uint64
}

// NewNonceSource builds a NonceSource anchored at the given Unix-seconds
// epoch (callers normally pass time.Now().Unix() at startup).
func NewNonceSource(epochSeconds int64) *NonceSource {
	return &NonceSource{epoch: epochSeconds}
}

// Next returns the next nonce in [1, 2^31), strictly greater than the
// previous value returned by this source.
func (n *NonceSource) Next() uint32 {
	c := atomic.AddUint64(&n.counter, 1)
	val := (n.epoch+int64(c/1000))*1000 + int64(c%1000)
	val %= math.MaxInt32 - 1
	if val < 1 {
		val += 1
	}
	return uint32(val)
}

// RoundingMode selects how ScaleAmount rounds a fractional scaled amount.
type RoundingMode int

const (
	RoundUp RoundingMode = iota
	RoundDown
)

// ScaleAmount converts a human-readable decimal amount to an integer
// amount at the given asset resolution (decimals), per spec §6: buy
// amounts round up, sell amounts round down, fee amounts round up.
func ScaleAmount(amount float64, decimals int, mode RoundingMode) int64 {
	scale := math.Pow(10, float64(decimals))
	scaled := amount * scale
	switch mode {
	case RoundUp:
		return int64(math.Ceil(scaled))
	default:
		return int64(math.Floor(scaled))
	}
}

// ScaleOrderAmounts computes the signed base/quote amounts for an order,
// rounding both legs' magnitudes up for a buy and down for a sell, then
// attaches the correct sign: base amount is positive for buy, negative
// for sell; quote amount carries the opposite sign.
func ScaleOrderAmounts(side types.Side, price, size float64, baseDecimals, quoteDecimals int) (baseSigned, quoteSigned int64) {
	mode := RoundDown
	if side == types.Buy {
		mode = RoundUp
	}

	base := ScaleAmount(size, baseDecimals, mode)
	quote := ScaleAmount(size*price, quoteDecimals, mode)

	if side == types.Buy {
		return base, -quote
	}
	return -base, quote
}

// ScaleFee rounds a fee amount up, per spec §6.
func ScaleFee(fee float64, decimals int) int64 {
	return ScaleAmount(fee, decimals, RoundUp)
}

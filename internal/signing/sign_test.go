package signing

import (
	"sync"
	"testing"

	"marketmaker/pkg/types"
)

const testPrivateKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNewSignerParsesKeyAndDerivesPublicKey(t *testing.T) {
	t.Parallel()
	s, err := NewSigner(testPrivateKeyHex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.PublicKey() == "" {
		t.Fatal("expected non-empty public key")
	}
}

func TestNewSignerAcceptsHexPrefix(t *testing.T) {
	t.Parallel()
	s, err := NewSigner("0x" + testPrivateKeyHex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.PublicKey() == "" {
		t.Fatal("expected non-empty public key")
	}
}

func TestNewSignerRejectsInvalidKey(t *testing.T) {
	t.Parallel()
	if _, err := NewSigner("not-a-hex-key"); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func sampleFields() types.SignedOrderFields {
	return types.SignedOrderFields{
		SyntheticAssetID:  "BTC-PERP",
		CollateralAssetID: "USDC",
		BaseAmountSigned:  1000000,
		QuoteAmountSigned: -50000000,
		FeeAmount:         100,
		PositionID:        "pos-1",
		Nonce:             42,
		ExpiryMs:          1700000000000,
		PublicKey:         "0xabc",
		DomainChainID:     1,
	}
}

func TestSignIsDeterministic(t *testing.T) {
	t.Parallel()
	s, err := NewSigner(testPrivateKeyHex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := sampleFields()
	sig1, err := s.Sign(fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig2, err := s.Sign(fields)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig1.R != sig2.R || sig1.S != sig2.S {
		t.Fatal("expected identical signatures for identical fields")
	}
}

func TestSignDiffersWithFieldChange(t *testing.T) {
	t.Parallel()
	s, err := NewSigner(testPrivateKeyHex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f1 := sampleFields()
	f2 := sampleFields()
	f2.Nonce = 43

	sig1, err := s.Sign(f1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig2, err := s.Sign(f2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig1.R == sig2.R && sig1.S == sig2.S {
		t.Fatal("expected different signatures for different nonce")
	}
}

func TestNonceSourceProducesValidRange(t *testing.T) {
	t.Parallel()
	ns := NewNonceSource(1700000000)
	for i := 0; i < 1000; i++ {
		n := ns.Next()
		if n < 1 {
			t.Fatalf("nonce %d below minimum 1", n)
		}
		if n >= (1 << 31) {
			t.Fatalf("nonce %d >= 2^31", n)
		}
	}
}

func TestNonceSourceIsSafeForConcurrentUse(t *testing.T) {
	t.Parallel()
	ns := NewNonceSource(1700000000)
	seen := make(chan uint32, 200)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				seen <- ns.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	dedup := make(map[uint32]int)
	for n := range seen {
		dedup[n]++
	}
	if len(dedup) != 200 {
		t.Errorf("expected 200 distinct nonces under concurrent use, got %d", len(dedup))
	}
}

func TestScaleAmountRoundsDirectionally(t *testing.T) {
	t.Parallel()
	if got := ScaleAmount(1.005, 2, RoundUp); got != 101 {
		t.Errorf("RoundUp: got %d, want 101", got)
	}
	if got := ScaleAmount(1.009, 2, RoundDown); got != 100 {
		t.Errorf("RoundDown: got %d, want 100", got)
	}
}

func TestScaleOrderAmountsSignsAndRounding(t *testing.T) {
	t.Parallel()
	base, quote := ScaleOrderAmounts(types.Buy, 100.0, 2.0, 6, 6)
	if base <= 0 {
		t.Errorf("expected positive base amount for buy, got %d", base)
	}
	if quote >= 0 {
		t.Errorf("expected negative quote amount for buy, got %d", quote)
	}

	base, quote = ScaleOrderAmounts(types.Sell, 100.0, 2.0, 6, 6)
	if base >= 0 {
		t.Errorf("expected negative base amount for sell, got %d", base)
	}
	if quote <= 0 {
		t.Errorf("expected positive quote amount for sell, got %d", quote)
	}
}

func TestScaleFeeRoundsUp(t *testing.T) {
	t.Parallel()
	if got := ScaleFee(0.001, 2); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
}

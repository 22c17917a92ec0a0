package ecall

import "testing"

func TestDeriveCreateAddressVariesWithNonce(t *testing.T) {
	sender := addrFromByte(7)
	a, err := DeriveCreateAddress(sender, 0)
	if err != nil {
		t.Fatalf("DeriveCreateAddress(0): %v", err)
	}
	b, err := DeriveCreateAddress(sender, 1)
	if err != nil {
		t.Fatalf("DeriveCreateAddress(1): %v", err)
	}
	if a == b {
		t.Fatalf("DeriveCreateAddress ignored nonce: both nonces produced %s", a.Hex())
	}
}

func TestDeriveCreateAddressVariesWithSender(t *testing.T) {
	a, err := DeriveCreateAddress(addrFromByte(1), 0)
	if err != nil {
		t.Fatalf("DeriveCreateAddress: %v", err)
	}
	b, err := DeriveCreateAddress(addrFromByte(2), 0)
	if err != nil {
		t.Fatalf("DeriveCreateAddress: %v", err)
	}
	if a == b {
		t.Fatalf("DeriveCreateAddress ignored sender")
	}
}

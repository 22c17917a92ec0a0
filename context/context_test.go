package context

import (
	"testing"

	"github.com/eth2030/eth2030/hoststate"
	"github.com/eth2030/eth2030/types"
	"github.com/holiman/uint256"
)

func TestSubInheritsReadOnlyAndIncrementsDepth(t *testing.T) {
	state := hoststate.NewMemoryState(&hoststate.Env{})
	var callee, caller types.Address
	callee[19] = 1
	caller[19] = 2
	root := New(callee, caller, new(uint256.Int), state, &hoststate.Env{})
	root.ReadOnly = true

	var target types.Address
	target[19] = 3
	sub := root.Sub(target, callee, target, new(uint256.Int), false)

	if !sub.ReadOnly {
		t.Fatalf("sub.ReadOnly = false, want true (inherited from parent)")
	}
	if sub.Depth != root.Depth+1 {
		t.Fatalf("sub.Depth = %d, want %d", sub.Depth, root.Depth+1)
	}
	if sub.State != root.State {
		t.Fatalf("sub.State does not share the parent's state handle")
	}
}

func TestSubStaticCallSetsReadOnlyEvenIfParentIsNot(t *testing.T) {
	state := hoststate.NewMemoryState(&hoststate.Env{})
	var callee, caller, target types.Address
	callee[19] = 1
	caller[19] = 2
	target[19] = 3
	root := New(callee, caller, new(uint256.Int), state, &hoststate.Env{})

	sub := root.Sub(target, callee, target, new(uint256.Int), true)
	if !sub.ReadOnly {
		t.Fatalf("STATICCALL sub-frame must be read-only")
	}
}

func TestForwardGasCapsAt63Over64(t *testing.T) {
	state := hoststate.NewMemoryState(&hoststate.Env{})
	var addr types.Address
	c := New(addr, addr, new(uint256.Int), state, &hoststate.Env{})
	c.GasRemaining = 6400

	forwarded := c.ForwardGas(6400)
	if forwarded != 6300 {
		t.Fatalf("ForwardGas(6400) with 6400 remaining = %d, want 6300", forwarded)
	}
	if c.GasRemaining != 100 {
		t.Fatalf("GasRemaining after forward = %d, want 100", c.GasRemaining)
	}
}

func TestForwardGasCapsAtRequestedWhenBelow63Over64(t *testing.T) {
	state := hoststate.NewMemoryState(&hoststate.Env{})
	var addr types.Address
	c := New(addr, addr, new(uint256.Int), state, &hoststate.Env{})
	c.GasRemaining = 6400

	forwarded := c.ForwardGas(100)
	if forwarded != 100 {
		t.Fatalf("ForwardGas(100) = %d, want 100 (below the 63/64 cap)", forwarded)
	}
	if c.GasRemaining != 6300 {
		t.Fatalf("GasRemaining after forward = %d, want 6300", c.GasRemaining)
	}
}

func TestRefundGasAddsBack(t *testing.T) {
	state := hoststate.NewMemoryState(&hoststate.Env{})
	var addr types.Address
	c := New(addr, addr, new(uint256.Int), state, &hoststate.Env{})
	c.GasRemaining = 100
	c.RefundGas(37)
	if c.GasRemaining != 137 {
		t.Fatalf("GasRemaining after refund = %d, want 137", c.GasRemaining)
	}
}

func TestSetReturnDataCopiesAndIsIndependent(t *testing.T) {
	state := hoststate.NewMemoryState(&hoststate.Env{})
	var addr types.Address
	c := New(addr, addr, new(uint256.Int), state, &hoststate.Env{})

	src := []byte{1, 2, 3}
	c.SetReturnData(src)
	src[0] = 99

	if c.ReturnData[0] != 1 {
		t.Fatalf("SetReturnData aliased the caller's slice")
	}
}

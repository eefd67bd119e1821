package events

import (
	"math/big"
	"testing"

	"flashvault/crypto"
)

func TestBufferRevertDropsLaterEvents(t *testing.T) {
	var buf Buffer
	buf.Emit(Deposited{Depositor: crypto.DeriveAddress("a"), Amount: big.NewInt(1)})
	snap := buf.Snapshot()
	buf.Emit(Deposited{Depositor: crypto.DeriveAddress("b"), Amount: big.NewInt(2)})
	buf.Emit(PauseToggled{Paused: true})
	buf.RevertToSnapshot(snap)
	pending := buf.Pending()
	if len(pending) != 1 || pending[0].EventType() != TypeDeposited {
		t.Fatalf("unexpected pending events %v", pending)
	}
	drained := buf.Drain()
	if len(drained) != 1 || buf.Snapshot() != 0 {
		t.Fatalf("drain did not clear buffer")
	}
}

func TestMultiFansOut(t *testing.T) {
	var first, second Recorder
	count := 0
	m := Multi{&first, nil, &second, EmitterFunc(func(Event) { count++ })}
	m.Emit(PauseToggled{Paused: false})
	if len(first.Events) != 1 || len(second.Events) != 1 || count != 1 {
		t.Fatalf("fan out incomplete")
	}
	if len(first.OfType(TypeUnpaused)) != 1 {
		t.Fatalf("expected unpaused event")
	}
}

func TestFlashSwapExecutedRoundTrip(t *testing.T) {
	in := FlashSwapExecuted{
		Caller:    crypto.DeriveAddress("trader"),
		TokenIn:   crypto.DeriveAddress("token:WETH"),
		TokenOut:  crypto.DeriveAddress("token:USDC"),
		AmountIn:  big.NewInt(1_000),
		AmountOut: big.NewInt(995),
		Fee:       big.NewInt(1),
		Timestamp: 1_700_000_000,
	}
	rendered := in.Event()
	if rendered.Attribute("amountOut") != "995" {
		t.Fatalf("unexpected rendering %v", rendered.Attributes)
	}
	out, ok := DecodeFlashSwapExecuted(rendered)
	if !ok {
		t.Fatalf("decode failed")
	}
	if out.TokenIn != in.TokenIn || out.TokenOut != in.TokenOut || out.Caller != in.Caller {
		t.Fatalf("addresses mismatch")
	}
	if out.AmountIn.Cmp(in.AmountIn) != 0 || out.AmountOut.Cmp(in.AmountOut) != 0 || out.Timestamp != in.Timestamp {
		t.Fatalf("amounts mismatch")
	}
	if _, ok := DecodeFlashSwapExecuted(Deposited{}.Event()); ok {
		t.Fatalf("decode must reject other event types")
	}
}

func TestRescuedRendersNativeToken(t *testing.T) {
	ev := Rescued{Recipient: crypto.DeriveAddress("owner"), Amount: big.NewInt(7)}.Event()
	if ev.Attribute("token") != "native" {
		t.Fatalf("expected native marker, got %q", ev.Attribute("token"))
	}
}

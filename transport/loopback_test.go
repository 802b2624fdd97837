package transport

import "testing"

func TestLoopbackDeliversToHandler(t *testing.T) {
	reg := NewLoopbackRegistry(1)
	var got CanvassPosition
	delivered := 0
	a := reg.Register(0, Handlers{OnCanvassPosition: func(msg CanvassPosition) { got = msg; delivered++ }})
	b := reg.Register(1, Handlers{})

	if !b.SendCanvassPosition(0, CanvassPosition{LogPosition: 42, FollowerID: 1}) {
		t.Fatal("expected send to be accepted")
	}
	if n := a.Poll(); n != 1 {
		t.Fatalf("expected 1 delivered message, got %d", n)
	}
	if delivered != 1 || got.LogPosition != 42 {
		t.Fatalf("handler not invoked with expected message: %+v", got)
	}
}

func TestPartitionBlocksDelivery(t *testing.T) {
	reg := NewLoopbackRegistry(1)
	a := reg.Register(0, Handlers{})
	b := reg.Register(1, Handlers{})

	a.Partition(0, 1)
	if b.SendCanvassPosition(0, CanvassPosition{}) {
		t.Fatal("expected send across a partition to be rejected")
	}

	a.Heal(0, 1)
	if !b.SendCanvassPosition(0, CanvassPosition{}) {
		t.Fatal("expected send after heal to be accepted")
	}
}

func TestSetAcceptSimulatesBackpressure(t *testing.T) {
	reg := NewLoopbackRegistry(1)
	a := reg.Register(0, Handlers{})
	b := reg.Register(1, Handlers{})
	_ = b

	a.SetAccept(1, false)
	if a.SendCanvassPosition(1, CanvassPosition{}) {
		t.Fatal("expected rejected send while accept is false")
	}
}

func TestDropRateDropsSends(t *testing.T) {
	reg := NewLoopbackRegistry(1)
	a := reg.Register(0, Handlers{})
	b := reg.Register(1, Handlers{})
	_ = b

	a.SetDropRate(1.0)
	if a.SendCanvassPosition(1, CanvassPosition{}) {
		t.Fatal("expected send to be dropped at dropRate=1.0")
	}
}

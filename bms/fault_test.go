package bms

import "testing"

func TestRegister_LastWriteWins(t *testing.T) {
	r := NewRegister()
	if got := r.GetLastError(); got != FaultNone {
		t.Fatalf("fresh register reports %v", got)
	}

	r.Set(FaultMuxShort, 10)
	r.Set(FaultCellOvervoltage, 11)

	if got := r.GetLastError(); got != FaultCellOvervoltage {
		t.Fatalf("GetLastError = %v, want %v", got, FaultCellOvervoltage)
	}
	// Reading must not consume the latch.
	if got := r.GetLastError(); got != FaultCellOvervoltage {
		t.Fatalf("second read = %v, want %v", got, FaultCellOvervoltage)
	}
	if rec := r.Last(); rec.Node != 11 {
		t.Fatalf("origin node = %d, want 11", rec.Node)
	}

	r.Clear()
	if got := r.GetLastError(); got != FaultNone {
		t.Fatalf("after clear = %v, want %v", got, FaultNone)
	}
}

func TestRegister_Notify(t *testing.T) {
	r := NewRegister()
	var events []Record
	var actives []bool
	r.Notify(func(rec Record, active bool) {
		events = append(events, rec)
		actives = append(actives, active)
	})

	r.Clear() // empty clear must not notify
	r.Set(FaultBalancerFail, 12)
	r.Clear()

	if len(events) != 2 {
		t.Fatalf("got %d notifications, want 2", len(events))
	}
	if !actives[0] || actives[1] {
		t.Fatalf("active flags = %v, want [true false]", actives)
	}
	if events[1].Code != FaultBalancerFail {
		t.Fatalf("clear notification carries %v", events[1].Code)
	}
}

func TestFaultCode_ShortCodes(t *testing.T) {
	cases := map[FaultCode]string{
		FaultMuxShort:        "MSH",
		FaultBalancerFail:    "BAL",
		FaultCellPolarity:    "CPOL",
		FaultCellOvervoltage: "COV",
		FaultNone:            "",
	}
	for code, want := range cases {
		if got := code.ShortCode(); got != want {
			t.Errorf("%v.ShortCode() = %q, want %q", code, got, want)
		}
	}
}

package param

import "testing"

func TestSet_ClampsToBounds(t *testing.T) {
	s := NewStore()

	cases := []struct {
		id   ID
		set  float64
		want float64
	}{
		{NumChan, 99, 16},     // above max
		{NumChan, 0, 1},       // below min
		{NumChan, 12, 12},     // in range
		{IdcOfs, -9999, -4095},
		{UBalance, 4200, 4200},
		{IdleWait, -5, 0},
	}
	for _, c := range cases {
		s.Set(c.id, c.set)
		if got := s.Get(c.id); got != c.want {
			t.Errorf("Set(%s, %v): got %v, want %v", c.id, c.set, got, c.want)
		}
	}
}

func TestSet_SpotValuesUnclamped(t *testing.T) {
	s := NewStore()
	s.Set(Idc, -153.5)
	if got := s.GetFloat(Idc); got != -153.5 {
		t.Errorf("Spot value clamped: got %v", got)
	}
}

func TestSubscribe_NotifiesOnChange(t *testing.T) {
	s := NewStore()

	var got []ID
	s.Subscribe(func(id ID) { got = append(got, id) })

	s.SetInt(BalMode, 2)
	s.SetInt(BalMode, 2) // unchanged, must not notify
	s.Set(UAvg, 3700)    // spot value, must not notify

	if len(got) != 1 || got[0] != BalMode {
		t.Errorf("Expected one notification for balmode, got %v", got)
	}
}

func TestSetByName(t *testing.T) {
	s := NewStore()
	if err := s.SetByName("idlecurrent", 500); err != nil {
		t.Fatalf("SetByName failed: %v", err)
	}
	if got := s.GetInt(IdleCurrent); got != 500 {
		t.Errorf("Expected 500, got %d", got)
	}
	if err := s.SetByName("uavg", 1); err == nil {
		t.Error("Expected error setting a spot value by name")
	}
	if err := s.SetByName("nosuch", 1); err == nil {
		t.Error("Expected error for unknown name")
	}
}

func TestDefaults(t *testing.T) {
	s := NewStore()
	if got := s.GetInt(UCellMax); got != 4200 {
		t.Errorf("ucellmax default: got %d, want 4200", got)
	}
	if got := s.GetInt(IdleCurrent); got != 800 {
		t.Errorf("idlecurrent default: got %d, want 800", got)
	}
}

func TestUniqueIDsAreDistinct(t *testing.T) {
	seen := make(map[uint16]ID)
	for i := ID(0); i < numParams; i++ {
		uid := table[i].UniqueID
		if prev, dup := seen[uid]; dup {
			t.Errorf("Duplicate unique id %d: %s and %s", uid, prev, i)
		}
		seen[uid] = i
	}
}

func TestModuleStatSelectors(t *testing.T) {
	if ModuleStat(0, StatUAvg) != UAvg0 {
		t.Error("ModuleStat(0, StatUAvg) != UAvg0")
	}
	if ModuleStat(3, StatTempMax) != TempMax3 {
		t.Error("ModuleStat(3, StatTempMax) != TempMax3")
	}
	if CellVoltage(15) != U15 || CellCommand(7) != U7Cmd {
		t.Error("Cell selectors broken")
	}
}

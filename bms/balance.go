package bms

import (
	"math"

	"bms-service/param"
)

// balanceTolerance is the dead band around the module average inside which
// a cell is considered balanced.
const balanceTolerance = 5 // mV

// updateBalance recomputes the per-cell balance commands. Balancing only
// happens at rest: any pack current above the idle threshold releases every
// switch, and so does leaving Run.
func (n *Node) updateBalance() {
	count := n.cells.CellCount()

	apply := func(i int, cmd BalanceCommand) {
		if err := n.cells.SetBalance(i, cmd); err != nil {
			n.log.Warn("balance switch failed", "cell", i, "error", err)
			return
		}
		n.store.SetInt(param.CellCommand(i), int(cmd))
	}

	// Test override: with the test group enabled, testchan pins one channel
	// to testbalance and every other channel open.
	if ch := n.store.GetInt(param.TestChan); ch >= 0 && n.store.GetBool(param.Enable) {
		for i := 0; i < count; i++ {
			cmd := BalanceNone
			if i == ch {
				switch n.store.GetInt(param.TestBalance) {
				case 1:
					cmd = n.additiveCommand(i)
				case 2:
					cmd = BalanceDischarge
				}
			}
			apply(i, cmd)
		}
		return
	}

	mode := n.store.GetInt(param.BalMode)
	idle := math.Abs(n.store.Get(param.IdcAvg)) < n.store.Get(param.IdleCurrent)/1000
	armed := n.store.Get(param.UMax) >= n.store.Get(param.UBalance)

	if mode == 0 || !idle || !armed {
		for i := 0; i < count; i++ {
			apply(i, BalanceNone)
		}
		return
	}

	target := n.store.Get(param.UAvg)
	for i := 0; i < count; i++ {
		mv := n.store.Get(param.CellVoltage(i))
		cmd := BalanceNone
		switch {
		case mv > target+balanceTolerance && mode&2 != 0:
			cmd = BalanceDischarge
		case mv < target-balanceTolerance && mode&1 != 0:
			cmd = n.additiveCommand(i)
		}
		apply(i, cmd)
	}
}

// additiveCommand picks the charge polarity for a cell. The flying
// capacitor connects to alternating terminals along the stack, so the
// polarity flips with the channel parity.
func (n *Node) additiveCommand(i int) BalanceCommand {
	if i%2 == 0 {
		return BalanceChargePos
	}
	return BalanceChargeNeg
}

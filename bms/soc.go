package bms

import (
	"time"

	"bms-service/param"
)

// socCurve lists the rest-voltage parameters at 10 % SoC steps.
var socCurve = []param.ID{
	param.UCell0Soc, param.UCell10Soc, param.UCell20Soc, param.UCell30Soc,
	param.UCell40Soc, param.UCell50Soc, param.UCell60Soc, param.UCell70Soc,
	param.UCell80Soc, param.UCell90Soc, param.UCell100Soc,
}

// socEstimator tracks the state of charge: seeded from the rest-voltage
// curve at startup, then integrated from the pack current.
type socEstimator struct {
	soc       float64 // percent
	chargeIn  float64 // As
	chargeOut float64 // As
}

// init seeds the estimate from the resting cell voltages and resets the
// coulomb counters.
func (e *socEstimator) init(store *param.Store, cells CellSource) error {
	count := cells.CellCount()
	var sum float64
	for i := 0; i < count; i++ {
		mv, err := cells.ReadCell(i)
		if err != nil {
			return err
		}
		sum += mv
	}
	rest := sum
	if count > 0 {
		rest = sum / float64(count)
	}

	e.soc = socFromVoltage(store, rest)
	e.chargeIn = 0
	e.chargeOut = 0

	store.SetFloat(param.Soc, e.soc)
	store.SetFloat(param.Soh, store.Get(param.SohPreset))
	store.SetFloat(param.ChargeIn, 0)
	store.SetFloat(param.ChargeOut, 0)
	return nil
}

// socFromVoltage interpolates the rest-voltage curve.
func socFromVoltage(store *param.Store, mv float64) float64 {
	lo := store.Get(socCurve[0])
	if mv <= lo {
		return 0
	}
	for i := 1; i < len(socCurve); i++ {
		hi := store.Get(socCurve[i])
		if mv <= hi {
			frac := 0.0
			if hi > lo {
				frac = (mv - lo) / (hi - lo)
			}
			return (float64(i-1) + frac) * 10
		}
		lo = hi
	}
	return 100
}

// accumulate integrates the pack current. Positive current discharges.
func (e *socEstimator) accumulate(store *param.Store, idc float64, dt time.Duration) {
	secs := dt.Seconds()
	as := idc * secs
	if as > 0 {
		e.chargeOut += as
	} else {
		e.chargeIn -= as
	}

	soh := store.Get(param.Soh) / 100
	capAs := store.Get(param.NomCap) * 3600 * soh
	if capAs > 0 {
		e.soc -= as / capAs * 100
	}
	if e.soc < 0 {
		e.soc = 0
	}
	if e.soc > 100 {
		e.soc = 100
	}

	store.SetFloat(param.Soc, e.soc)
	store.SetFloat(param.ChargeIn, e.chargeIn)
	store.SetFloat(param.ChargeOut, e.chargeOut)
}

// limits derives the charge and discharge current limits from the extreme
// cell voltages: full charge current below ucv1, two derating steps above,
// zero at the cell ceiling; discharge cut entirely at the cell floor.
func (e *socEstimator) limits(store *param.Store) {
	umax := store.Get(param.UMax)
	umin := store.Get(param.UMin)

	var chargeLim float64
	switch {
	case umax >= store.Get(param.UCellMax):
		chargeLim = 0
	case umax >= store.Get(param.Ucv2):
		chargeLim = store.Get(param.Icc3)
	case umax >= store.Get(param.Ucv1):
		chargeLim = store.Get(param.Icc2)
	default:
		chargeLim = store.Get(param.Icc1)
	}

	dischargeLim := store.Get(param.DischargeMax)
	if umin <= store.Get(param.UCellMin) {
		dischargeLim = 0
	}

	store.SetFloat(param.ChargeLim, chargeLim)
	store.SetFloat(param.DischargeLim, dischargeLim)
}

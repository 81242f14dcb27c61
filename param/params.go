// Package param implements the ID-indexed table of typed scalar values
// shared by the whole service: saved configuration parameters, temporary
// test parameters and read-only telemetry spot values.
//
// Every saved parameter carries a unique 16-bit ID that must never change.
// It is the key under which the value is stored in the parameter page, so
// saved values can be mapped back to this table across firmware revisions.
// A parameter added later simply receives its compiled-in default when an
// old page is loaded. Never re-assign the ID of a deleted parameter.
package param

// ID indexes the parameter table.
type ID int

// Kind classifies a table entry.
type Kind int

const (
	// KindSaved parameters persist in the parameter page.
	KindSaved Kind = iota
	// KindTemp parameters are settable but never persisted.
	KindTemp
	// KindSpot values are telemetry, recomputed every cycle, read-only
	// from the operator's point of view.
	KindSpot
)

// Entry describes one table row.
type Entry struct {
	Category string
	Name     string
	Unit     string
	Min      float64
	Max      float64
	Default  float64
	UniqueID uint16
	Kind     Kind
}

// Parameter categories.
const (
	CatBMS  = "BMS"
	CatBat  = "Battery Characteristics"
	CatSens = "Sensor setup"
	CatComm = "Communication"
	CatTest = "Testing"
)

const (
	Gain ID = iota
	Correction0
	Correction1
	Correction15
	NumChan
	BalMode
	UBalance
	IdleWait
	SleepTimeout
	IdleCurrent
	DischargeMax
	NomCap
	Icc1
	Icc2
	Icc3
	Ucv1
	Ucv2
	UCellMax
	UCellMin
	UCell0Soc
	UCell10Soc
	UCell20Soc
	UCell30Soc
	UCell40Soc
	UCell50Soc
	UCell60Soc
	UCell70Soc
	UCell80Soc
	UCell90Soc
	UCell100Soc
	SohPreset
	IdcGain
	IdcOfs
	IdcMode
	TempSns
	TempRes
	TempBeta
	PdoBase
	SdoBase
	Enable
	TestChan
	TestBalance

	// Spot values.
	OpMode
	LastErr
	ErrInfo
	ModAddr
	ModNum
	TotalCells
	Counter
	Uptime
	ChargeIn
	ChargeOut
	Soc
	Soh
	ChargeLim
	DischargeLim
	Idc
	IdcAvg
	Power
	TempMin
	TempMax
	UAvg
	UMin
	UMax
	UDelta
	UTotal
	U0
	U1
	U2
	U3
	U4
	U5
	U6
	U7
	U8
	U9
	U10
	U11
	U12
	U13
	U14
	U15
	U0Cmd
	U1Cmd
	U2Cmd
	U3Cmd
	U4Cmd
	U5Cmd
	U6Cmd
	U7Cmd
	U8Cmd
	U9Cmd
	U10Cmd
	U11Cmd
	U12Cmd
	U13Cmd
	U14Cmd
	U15Cmd
	CpuLoad

	// Per-module aggregates, 5 entries per module (see ModuleStat).
	UAvg0
	UMin0
	UMax0
	TempMin0
	TempMax0
	UAvg1
	UMin1
	UMax1
	TempMin1
	TempMax1
	UAvg2
	UMin2
	UMax2
	TempMin2
	TempMax2
	UAvg3
	UMin3
	UMax3
	TempMin3
	TempMax3
	UAvg4
	UMin4
	UMax4
	TempMin4
	TempMax4
	UAvg5
	UMin5
	UMax5
	TempMin5
	TempMax5
	UAvg6
	UMin6
	UMax6
	TempMin6
	TempMax6
	UAvg7
	UMin7
	UMax7
	TempMin7
	TempMax7

	numParams
)

// MaxModules is the number of chain positions with dedicated aggregate
// spot values.
const MaxModules = 8

// MaxCells is the number of cells one module can monitor.
const MaxCells = 16

// CellVoltage returns the spot value carrying cell n's voltage.
func CellVoltage(n int) ID { return U0 + ID(n) }

// CellCommand returns the spot value carrying cell n's balance command.
func CellCommand(n int) ID { return U0Cmd + ID(n) }

// Per-module aggregate selectors for ModuleStat.
type ModuleStatKind int

const (
	StatUAvg ModuleStatKind = iota
	StatUMin
	StatUMax
	StatTempMin
	StatTempMax
	moduleStatCount
)

// ModuleStat returns the aggregate spot value of kind k for module m.
func ModuleStat(m int, k ModuleStatKind) ID {
	return UAvg0 + ID(m)*ID(moduleStatCount) + ID(k)
}

var table = [numParams]Entry{
	//                      category  name            unit          min     max     default  id
	Gain:         {CatBMS, "gain", "mV/dig", 1, 1000, 587, 3, KindSaved},
	Correction0:  {CatBMS, "correction0", "ppm", -10000, 10000, 1800, 14, KindSaved},
	Correction1:  {CatBMS, "correction1", "ppm", -10000, 10000, 3700, 15, KindSaved},
	Correction15: {CatBMS, "correction15", "ppm", -10000, 10000, 1000, 16, KindSaved},
	NumChan:      {CatBMS, "numchan", "", 1, 16, 12, 4, KindSaved},
	BalMode:      {CatBMS, "balmode", "0=Off, 1=Additive, 2=Dissipative, 3=Both", 0, 3, 0, 5, KindSaved},
	UBalance:     {CatBMS, "ubalance", "mV", 0, 4500, 4500, 30, KindSaved},
	IdleWait:     {CatBMS, "idlewait", "s", 0, 100000, 60, 12, KindSaved},
	SleepTimeout: {CatBMS, "sleeptimeout", "h", 0, 99, 2, 56, KindSaved},
	IdleCurrent:  {CatBMS, "idlecurrent", "mA", 0, 9999, 800, 57, KindSaved},
	DischargeMax: {CatBat, "dischargemax", "A", 1, 2047, 200, 32, KindSaved},
	NomCap:       {CatBat, "nomcap", "Ah", 0, 1000, 100, 9, KindSaved},
	Icc1:         {CatBat, "icc1", "A", 1, 2000, 70, 43, KindSaved},
	Icc2:         {CatBat, "icc2", "A", 1, 2000, 50, 44, KindSaved},
	Icc3:         {CatBat, "icc3", "A", 1, 2000, 20, 45, KindSaved},
	Ucv1:         {CatBat, "ucv1", "mV", 3000, 4500, 3900, 46, KindSaved},
	Ucv2:         {CatBat, "ucv2", "mV", 3000, 4500, 4000, 47, KindSaved},
	UCellMax:     {CatBat, "ucellmax", "mV", 1000, 4500, 4200, 29, KindSaved},
	UCellMin:     {CatBat, "ucellmin", "mV", 1000, 4500, 3300, 28, KindSaved},
	UCell0Soc:    {CatBat, "ucell0soc", "mV", 2000, 4500, 3300, 17, KindSaved},
	UCell10Soc:   {CatBat, "ucell10soc", "mV", 2000, 4500, 3400, 18, KindSaved},
	UCell20Soc:   {CatBat, "ucell20soc", "mV", 2000, 4500, 3450, 19, KindSaved},
	UCell30Soc:   {CatBat, "ucell30soc", "mV", 2000, 4500, 3500, 20, KindSaved},
	UCell40Soc:   {CatBat, "ucell40soc", "mV", 2000, 4500, 3560, 21, KindSaved},
	UCell50Soc:   {CatBat, "ucell50soc", "mV", 2000, 4500, 3600, 22, KindSaved},
	UCell60Soc:   {CatBat, "ucell60soc", "mV", 2000, 4500, 3700, 23, KindSaved},
	UCell70Soc:   {CatBat, "ucell70soc", "mV", 2000, 4500, 3800, 24, KindSaved},
	UCell80Soc:   {CatBat, "ucell80soc", "mV", 2000, 4500, 4000, 25, KindSaved},
	UCell90Soc:   {CatBat, "ucell90soc", "mV", 2000, 4500, 4100, 26, KindSaved},
	UCell100Soc:  {CatBat, "ucell100soc", "mV", 2000, 4500, 4200, 27, KindSaved},
	SohPreset:    {CatBat, "sohpreset", "%", 10, 100, 100, 53, KindSaved},
	IdcGain:      {CatSens, "idcgain", "dig/A", -1000, 1000, 10, 6, KindSaved},
	IdcOfs:       {CatSens, "idcofs", "dig", -4095, 4095, 0, 7, KindSaved},
	IdcMode:      {CatSens, "idcmode", "0=Off, 1=AdcSingle, 2=AdcDifferential, 3=IsaCan, 4=Serial, 5=Modbus", 0, 5, 0, 8, KindSaved},
	TempSns:      {CatSens, "tempsns", "0=None, 1=Chan1, 2=Chan2, 3=Both", 0, 3, 0, 52, KindSaved},
	TempRes:      {CatSens, "tempres", "Ohm", 10, 500000, 10000, 50, KindSaved},
	TempBeta:     {CatSens, "tempbeta", "", 1, 100000, 3900, 51, KindSaved},
	PdoBase:      {CatComm, "pdobase", "", 0, 2047, 500, 10, KindSaved},
	SdoBase:      {CatComm, "sdobase", "", 0, 63, 10, 11, KindSaved},
	Enable:       {CatTest, "enable", "0=Off, 1=On", 0, 1, 1, 48, KindTemp},
	TestChan:     {CatTest, "testchan", "", -1, 15, -1, 49, KindTemp},
	TestBalance:  {CatTest, "testbalance", "0=Off, 1=Additive, 2=Dissipative", 0, 2, 0, 54, KindTemp},

	OpMode:       {"", "opmode", "0=Boot, 1=GetAddr, 2=SetAddr, 3=ReqInfo, 4=RecvInfo, 5=Init, 6=SelfTest, 7=Run, 8=Idle, 9=Error", 0, 0, 0, 2000, KindSpot},
	LastErr:      {"", "lasterr", "", 0, 0, 0, 2101, KindSpot},
	ErrInfo:      {"", "errinfo", "", 0, 0, 0, 2102, KindSpot},
	ModAddr:      {"", "modaddr", "", 0, 0, 0, 2045, KindSpot},
	ModNum:       {"", "modnum", "", 0, 0, 0, 2046, KindSpot},
	TotalCells:   {"", "totalcells", "", 0, 0, 0, 2074, KindSpot},
	Counter:      {"", "counter", "", 0, 0, 0, 2076, KindSpot},
	Uptime:       {"", "uptime", "s", 0, 0, 0, 2103, KindSpot},
	ChargeIn:     {"", "chargein", "As", 0, 0, 0, 2040, KindSpot},
	ChargeOut:    {"", "chargeout", "As", 0, 0, 0, 2041, KindSpot},
	Soc:          {"", "soc", "%", 0, 0, 0, 2071, KindSpot},
	Soh:          {"", "soh", "%", 0, 0, 100, 2086, KindSpot},
	ChargeLim:    {"", "chargelim", "A", 0, 0, 0, 2072, KindSpot},
	DischargeLim: {"", "dischargelim", "A", 0, 0, 0, 2073, KindSpot},
	Idc:          {"", "idc", "A", 0, 0, 0, 2042, KindSpot},
	IdcAvg:       {"", "idcavg", "A", 0, 0, 0, 2043, KindSpot},
	Power:        {"", "power", "W", 0, 0, 0, 2075, KindSpot},
	TempMin:      {"", "tempmin", "°C", 0, 0, 0, 2044, KindSpot},
	TempMax:      {"", "tempmax", "°C", 0, 0, 0, 2077, KindSpot},
	UAvg:         {"", "uavg", "mV", 0, 0, 0, 2002, KindSpot},
	UMin:         {"", "umin", "mV", 0, 0, 0, 2003, KindSpot},
	UMax:         {"", "umax", "mV", 0, 0, 0, 2004, KindSpot},
	UDelta:       {"", "udelta", "mV", 0, 0, 0, 2005, KindSpot},
	UTotal:       {"", "utotal", "mV", 0, 0, 0, 2039, KindSpot},
	U0:           {"", "u0", "mV", 0, 0, 0, 2006, KindSpot},
	U1:           {"", "u1", "mV", 0, 0, 0, 2007, KindSpot},
	U2:           {"", "u2", "mV", 0, 0, 0, 2008, KindSpot},
	U3:           {"", "u3", "mV", 0, 0, 0, 2009, KindSpot},
	U4:           {"", "u4", "mV", 0, 0, 0, 2010, KindSpot},
	U5:           {"", "u5", "mV", 0, 0, 0, 2011, KindSpot},
	U6:           {"", "u6", "mV", 0, 0, 0, 2012, KindSpot},
	U7:           {"", "u7", "mV", 0, 0, 0, 2013, KindSpot},
	U8:           {"", "u8", "mV", 0, 0, 0, 2014, KindSpot},
	U9:           {"", "u9", "mV", 0, 0, 0, 2015, KindSpot},
	U10:          {"", "u10", "mV", 0, 0, 0, 2016, KindSpot},
	U11:          {"", "u11", "mV", 0, 0, 0, 2017, KindSpot},
	U12:          {"", "u12", "mV", 0, 0, 0, 2018, KindSpot},
	U13:          {"", "u13", "mV", 0, 0, 0, 2019, KindSpot},
	U14:          {"", "u14", "mV", 0, 0, 0, 2020, KindSpot},
	U15:          {"", "u15", "mV", 0, 0, 0, 2021, KindSpot},
	U0Cmd:        {"", "u0cmd", "0=None, 1=Discharge, 2=ChargePos, 3=ChargeNeg", 0, 0, 0, 2022, KindSpot},
	U1Cmd:        {"", "u1cmd", "", 0, 0, 0, 2023, KindSpot},
	U2Cmd:        {"", "u2cmd", "", 0, 0, 0, 2024, KindSpot},
	U3Cmd:        {"", "u3cmd", "", 0, 0, 0, 2025, KindSpot},
	U4Cmd:        {"", "u4cmd", "", 0, 0, 0, 2026, KindSpot},
	U5Cmd:        {"", "u5cmd", "", 0, 0, 0, 2027, KindSpot},
	U6Cmd:        {"", "u6cmd", "", 0, 0, 0, 2028, KindSpot},
	U7Cmd:        {"", "u7cmd", "", 0, 0, 0, 2029, KindSpot},
	U8Cmd:        {"", "u8cmd", "", 0, 0, 0, 2030, KindSpot},
	U9Cmd:        {"", "u9cmd", "", 0, 0, 0, 2031, KindSpot},
	U10Cmd:       {"", "u10cmd", "", 0, 0, 0, 2032, KindSpot},
	U11Cmd:       {"", "u11cmd", "", 0, 0, 0, 2033, KindSpot},
	U12Cmd:       {"", "u12cmd", "", 0, 0, 0, 2034, KindSpot},
	U13Cmd:       {"", "u13cmd", "", 0, 0, 0, 2035, KindSpot},
	U14Cmd:       {"", "u14cmd", "", 0, 0, 0, 2036, KindSpot},
	U15Cmd:       {"", "u15cmd", "", 0, 0, 0, 2037, KindSpot},
	CpuLoad:      {"", "cpuload", "%", 0, 0, 0, 2038, KindSpot},

	UAvg0:    {"", "uavg0", "mV", 0, 0, 0, 2047, KindSpot},
	UMin0:    {"", "umin0", "mV", 0, 0, 0, 2048, KindSpot},
	UMax0:    {"", "umax0", "mV", 0, 0, 0, 2049, KindSpot},
	TempMin0: {"", "tempmin0", "°C", 0, 0, 0, 2078, KindSpot},
	TempMax0: {"", "tempmax0", "°C", 0, 0, 0, 2079, KindSpot},
	UAvg1:    {"", "uavg1", "mV", 0, 0, 0, 2050, KindSpot},
	UMin1:    {"", "umin1", "mV", 0, 0, 0, 2051, KindSpot},
	UMax1:    {"", "umax1", "mV", 0, 0, 0, 2052, KindSpot},
	TempMin1: {"", "tempmin1", "°C", 0, 0, 0, 2087, KindSpot},
	TempMax1: {"", "tempmax1", "°C", 0, 0, 0, 2088, KindSpot},
	UAvg2:    {"", "uavg2", "mV", 0, 0, 0, 2053, KindSpot},
	UMin2:    {"", "umin2", "mV", 0, 0, 0, 2054, KindSpot},
	UMax2:    {"", "umax2", "mV", 0, 0, 0, 2055, KindSpot},
	TempMin2: {"", "tempmin2", "°C", 0, 0, 0, 2089, KindSpot},
	TempMax2: {"", "tempmax2", "°C", 0, 0, 0, 2090, KindSpot},
	UAvg3:    {"", "uavg3", "mV", 0, 0, 0, 2056, KindSpot},
	UMin3:    {"", "umin3", "mV", 0, 0, 0, 2057, KindSpot},
	UMax3:    {"", "umax3", "mV", 0, 0, 0, 2058, KindSpot},
	TempMin3: {"", "tempmin3", "°C", 0, 0, 0, 2091, KindSpot},
	TempMax3: {"", "tempmax3", "°C", 0, 0, 0, 2092, KindSpot},
	UAvg4:    {"", "uavg4", "mV", 0, 0, 0, 2059, KindSpot},
	UMin4:    {"", "umin4", "mV", 0, 0, 0, 2060, KindSpot},
	UMax4:    {"", "umax4", "mV", 0, 0, 0, 2061, KindSpot},
	TempMin4: {"", "tempmin4", "°C", 0, 0, 0, 2093, KindSpot},
	TempMax4: {"", "tempmax4", "°C", 0, 0, 0, 2094, KindSpot},
	UAvg5:    {"", "uavg5", "mV", 0, 0, 0, 2062, KindSpot},
	UMin5:    {"", "umin5", "mV", 0, 0, 0, 2063, KindSpot},
	UMax5:    {"", "umax5", "mV", 0, 0, 0, 2064, KindSpot},
	TempMin5: {"", "tempmin5", "°C", 0, 0, 0, 2095, KindSpot},
	TempMax5: {"", "tempmax5", "°C", 0, 0, 0, 2096, KindSpot},
	UAvg6:    {"", "uavg6", "mV", 0, 0, 0, 2065, KindSpot},
	UMin6:    {"", "umin6", "mV", 0, 0, 0, 2066, KindSpot},
	UMax6:    {"", "umax6", "mV", 0, 0, 0, 2067, KindSpot},
	TempMin6: {"", "tempmin6", "°C", 0, 0, 0, 2097, KindSpot},
	TempMax6: {"", "tempmax6", "°C", 0, 0, 0, 2098, KindSpot},
	UAvg7:    {"", "uavg7", "mV", 0, 0, 0, 2068, KindSpot},
	UMin7:    {"", "umin7", "mV", 0, 0, 0, 2069, KindSpot},
	UMax7:    {"", "umax7", "mV", 0, 0, 0, 2070, KindSpot},
	TempMin7: {"", "tempmin7", "°C", 0, 0, 0, 2099, KindSpot},
	TempMax7: {"", "tempmax7", "°C", 0, 0, 0, 2100, KindSpot},
}

// Describe returns the table row for id.
func Describe(id ID) Entry {
	return table[id]
}

// Count reports the number of table entries.
func Count() int { return int(numParams) }

// String returns the parameter's table name.
func (id ID) String() string {
	if id < 0 || id >= numParams {
		return "invalid"
	}
	return table[id].Name
}

var byName map[string]ID

func init() {
	byName = make(map[string]ID, numParams)
	for i := ID(0); i < numParams; i++ {
		byName[table[i].Name] = i
	}
}

// ByName resolves a parameter name to its table index.
func ByName(name string) (ID, bool) {
	id, ok := byName[name]
	return id, ok
}

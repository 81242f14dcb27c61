package config

import "fmt"

// Validate checks configuration correctness. It does not fill defaults,
// that is Normalize's job.
func Validate(cfg *Config) error {
	switch cfg.Service.Bus.Backend {
	case "", "sim":
	case "socketcan":
		if cfg.Service.Bus.Interface == "" {
			return fmt.Errorf("config: socketcan backend needs an interface name")
		}
	default:
		return fmt.Errorf("config: unknown bus backend %q", cfg.Service.Bus.Backend)
	}

	if len(cfg.Nodes) == 0 {
		return fmt.Errorf("config: at least one node required")
	}
	seen := make(map[int]bool)
	for i, n := range cfg.Nodes {
		if n.Ordinal < 0 {
			return fmt.Errorf("config: node %d: negative ordinal", i)
		}
		if seen[n.Ordinal] {
			return fmt.Errorf("config: duplicate ordinal %d", n.Ordinal)
		}
		seen[n.Ordinal] = true
		if n.Cells < 1 || n.Cells > 16 {
			return fmt.Errorf("config: node %d: cells must be 1..16, got %d", n.Ordinal, n.Cells)
		}
		switch n.CurrentSource {
		case "", "sim", "isacan":
		case "serial":
			if n.SerialDevice == "" {
				return fmt.Errorf("config: node %d: serial current source needs serial_device", n.Ordinal)
			}
		case "modbus":
			if n.ModbusEndpoint == "" {
				return fmt.Errorf("config: node %d: modbus current source needs modbus_endpoint", n.Ordinal)
			}
		default:
			return fmt.Errorf("config: node %d: unknown current source %q", n.Ordinal, n.CurrentSource)
		}
	}

	if cfg.Service.ExpectModules < 0 {
		return fmt.Errorf("config: expect_modules must not be negative")
	}
	if k := cfg.Service.PageKey; k != "" && len(k) != 16 {
		return fmt.Errorf("config: page_key must be 16 bytes, got %d", len(k))
	}
	for _, ms := range []int{cfg.Scheduler.BaseTickMs, cfg.Scheduler.AcquireMs, cfg.Scheduler.BroadcastMs, cfg.Scheduler.TelemetryMs} {
		if ms < 0 {
			return fmt.Errorf("config: scheduler intervals must not be negative")
		}
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
service:
  redis:
    address: 127.0.0.1
    port: 6380
  bus:
    backend: sim
  param_dir: /tmp/bms-test
  expect_modules: 2
scheduler:
  acquire_ms: 50
nodes:
  - ordinal: 0
    cells: 12
    current_source: serial
    serial_device: /dev/ttyUSB0
  - ordinal: 1
    cells: 8
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Redis.Port != 6380 {
		t.Errorf("redis port = %d, want 6380", cfg.Service.Redis.Port)
	}
	if cfg.Service.ExpectModules != 2 {
		t.Errorf("expect_modules = %d, want 2", cfg.Service.ExpectModules)
	}
	if len(cfg.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(cfg.Nodes))
	}
	if cfg.Nodes[0].CurrentSource != "serial" {
		t.Errorf("node 0 current source = %q", cfg.Nodes[0].CurrentSource)
	}

	// Normalized defaults.
	if cfg.Scheduler.AcquireMs != 50 {
		t.Errorf("acquire_ms = %d, want 50", cfg.Scheduler.AcquireMs)
	}
	if cfg.Scheduler.BaseTickMs != 10 {
		t.Errorf("base_tick_ms default = %d, want 10", cfg.Scheduler.BaseTickMs)
	}
	if cfg.Nodes[1].CurrentSource != "sim" {
		t.Errorf("node 1 current source default = %q, want sim", cfg.Nodes[1].CurrentSource)
	}
	if cfg.Nodes[1].RestMV != 3700 {
		t.Errorf("node 1 rest_mv default = %v, want 3700", cfg.Nodes[1].RestMV)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no nodes", `service: {}`},
		{"duplicate ordinal", `
nodes:
  - {ordinal: 0, cells: 12}
  - {ordinal: 0, cells: 12}
`},
		{"cells out of range", `
nodes:
  - {ordinal: 0, cells: 17}
`},
		{"socketcan without interface", `
service:
  bus:
    backend: socketcan
nodes:
  - {ordinal: 0, cells: 12}
`},
		{"serial without device", `
nodes:
  - {ordinal: 0, cells: 12, current_source: serial}
`},
		{"unknown current source", `
nodes:
  - {ordinal: 0, cells: 12, current_source: telepathy}
`},
		{"page key wrong length", `
service:
  page_key: short
nodes:
  - {ordinal: 0, cells: 12}
`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, c.body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

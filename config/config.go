// Package config loads and checks the service configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service   ServiceConfig `yaml:"service"`
	Scheduler SchedConfig   `yaml:"scheduler"`
	Nodes     []NodeConfig  `yaml:"nodes"`
}

type ServiceConfig struct {
	Redis RedisConfig `yaml:"redis"`
	Bus   BusConfig   `yaml:"bus"`
	// ParamDir holds one parameter page file per node.
	ParamDir string `yaml:"param_dir"`
	// PageKey overrides the built-in CMAC key for the parameter page.
	// Must be 16 bytes when set.
	PageKey string `yaml:"page_key"`
	// ExpectModules is the chain length the master waits for during
	// enumeration. Zero accepts whatever shows up.
	ExpectModules int `yaml:"expect_modules"`
}

type RedisConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// Disabled runs the service without telemetry, e.g. on the bench.
	Disabled bool `yaml:"disabled"`
}

// BusConfig selects the CAN backend: the in-process chain simulator or a
// SocketCAN interface.
type BusConfig struct {
	Backend   string `yaml:"backend"` // "sim" or "socketcan"
	Interface string `yaml:"interface"`
}

type SchedConfig struct {
	BaseTickMs  int `yaml:"base_tick_ms"`
	AcquireMs   int `yaml:"acquire_ms"`
	BroadcastMs int `yaml:"broadcast_ms"`
	TelemetryMs int `yaml:"telemetry_ms"`
}

// NodeConfig describes one module of the chain.
type NodeConfig struct {
	Ordinal int `yaml:"ordinal"`
	Cells   int `yaml:"cells"`
	// CurrentSource: "sim", "serial", "modbus" or "isacan". Only the
	// master node normally carries a current sensor.
	CurrentSource  string `yaml:"current_source"`
	SerialDevice   string `yaml:"serial_device"`
	ModbusEndpoint string `yaml:"modbus_endpoint"`
	// RestMV seeds the simulated cells.
	RestMV float64 `yaml:"rest_mv"`
}

// Load reads, validates and normalizes a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	Normalize(&cfg)
	return &cfg, nil
}

package config

// Normalize fills in defaults. It must be called only after Validate.
func Normalize(cfg *Config) {
	if cfg.Service.Bus.Backend == "" {
		cfg.Service.Bus.Backend = "sim"
	}
	if cfg.Service.Redis.Address == "" {
		cfg.Service.Redis.Address = "localhost"
	}
	if cfg.Service.Redis.Port == 0 {
		cfg.Service.Redis.Port = 6379
	}
	if cfg.Service.ParamDir == "" {
		cfg.Service.ParamDir = "/var/lib/bms-service"
	}
	if cfg.Scheduler.BaseTickMs == 0 {
		cfg.Scheduler.BaseTickMs = 10
	}
	if cfg.Scheduler.AcquireMs == 0 {
		cfg.Scheduler.AcquireMs = 100
	}
	if cfg.Scheduler.BroadcastMs == 0 {
		cfg.Scheduler.BroadcastMs = 1000
	}
	if cfg.Scheduler.TelemetryMs == 0 {
		cfg.Scheduler.TelemetryMs = 1000
	}
	for i := range cfg.Nodes {
		if cfg.Nodes[i].CurrentSource == "" {
			cfg.Nodes[i].CurrentSource = "sim"
		}
		if cfg.Nodes[i].RestMV == 0 {
			cfg.Nodes[i].RestMV = 3700
		}
	}
}

package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"bms-service/bms"
	"bms-service/config"
)

func main() {
	var (
		configPath  = flag.String("config", "/etc/bms-service/config.yaml", "Configuration file")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		hexExport   = flag.String("export-params", "", "Write the parameter page of node 0 as Intel HEX to the given file and exit")
		redisServer = flag.String("redis-server", "", "Redis server address (overrides config)")
		redisPort   = flag.Int("redis-port", 0, "Redis server port (overrides config)")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *redisServer != "" {
		cfg.Service.Redis.Address = *redisServer
	}
	if *redisPort != 0 {
		cfg.Service.Redis.Port = *redisPort
	}

	service, err := bms.NewService(cfg, logger)
	if err != nil {
		logger.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	if *hexExport != "" {
		if err := exportParams(service, *hexExport); err != nil {
			logger.Error("parameter export failed", "error", err)
			os.Exit(1)
		}
		logger.Info("parameter page exported", "path", *hexExport)
		return
	}

	if err := service.Start(); err != nil {
		logger.Error("failed to start service", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	service.Stop()
}

func exportParams(service *bms.Service, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return service.ExportParams(f)
}

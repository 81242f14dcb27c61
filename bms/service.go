package bms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bms-service/can"
	"bms-service/config"
	"bms-service/param"
	"bms-service/sched"
	"bms-service/sensor"
)

// Service owns the whole chain on this host: the bus backend, one Node per
// configured module, the cooperative scheduler and the telemetry layer.
type Service struct {
	cfg    *config.Config
	log    *slog.Logger
	redis  *redis.Client
	bus    *can.ChainBus
	socket *can.SocketCAN
	sim    *Simulation

	nodes     []*Node
	telemetry []*Telemetry
	scheduler *sched.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService builds the service from its configuration. Nothing runs until
// Start.
func NewService(cfg *config.Config, log *slog.Logger) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	if !cfg.Service.Redis.Disabled {
		s.redis = redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%d", cfg.Service.Redis.Address, cfg.Service.Redis.Port),
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	if err := s.buildBus(); err != nil {
		cancel()
		return nil, err
	}
	if err := s.buildNodes(); err != nil {
		cancel()
		return nil, err
	}
	s.buildScheduler()
	return s, nil
}

func (s *Service) buildBus() error {
	switch s.cfg.Service.Bus.Backend {
	case "sim":
		s.bus = can.NewChainBus()
		s.sim = NewSimulation(s.bus)
	case "socketcan":
		if len(s.cfg.Nodes) != 1 {
			return fmt.Errorf("socketcan backend drives exactly one node, got %d", len(s.cfg.Nodes))
		}
		sock, err := can.NewSocketCAN(s.cfg.Service.Bus.Interface)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", s.cfg.Service.Bus.Interface, err)
		}
		s.socket = sock
	}
	return nil
}

func (s *Service) port(i int) can.Hardware {
	if s.socket != nil {
		return s.socket
	}
	return s.bus.NewPort()
}

func (s *Service) buildNodes() error {
	if err := os.MkdirAll(s.cfg.Service.ParamDir, 0o755); err != nil {
		return fmt.Errorf("param dir: %w", err)
	}

	for i, nc := range s.cfg.Nodes {
		hw := s.port(i)

		store := param.NewStore()
		pagePath := s.pagePath(nc.Ordinal)
		if err := store.LoadFile(pagePath, s.pageKey()); err != nil {
			s.log.Warn("parameter page rejected, using defaults",
				"node", nc.Ordinal, "path", pagePath, "error", err)
		}
		store.SetInt(param.NumChan, nc.Cells)

		cells := NewSimCells(nc.Cells, nc.RestMV)
		if s.sim != nil {
			s.sim.AddModule(nc.Ordinal, cells)
		}

		current, err := s.buildCurrentSource(nc, hw)
		if err != nil {
			return err
		}

		node := NewNode(NodeConfig{
			Ordinal:       nc.Ordinal,
			ExpectModules: s.cfg.Service.ExpectModules,
		}, hw, store, cells, current, NewRegister(), s.log)

		node.SetSaveHook(func() error { return s.saveParams(node, pagePath) })
		node.SetPowerDownHook(func() {
			if err := HostPowerDown(); err != nil {
				s.log.Error("power down failed", "error", err)
			}
		})
		node.Machine()

		s.nodes = append(s.nodes, node)
		if s.redis != nil {
			s.telemetry = append(s.telemetry, NewTelemetry(s.redis, node, nc.Ordinal, s.log))
		}
	}
	return nil
}

func (s *Service) buildCurrentSource(nc config.NodeConfig, hw can.Hardware) (sensor.CurrentSource, error) {
	switch nc.CurrentSource {
	case "serial":
		src, err := sensor.NewSerialShunt(nc.SerialDevice, 9600)
		if err != nil {
			return nil, fmt.Errorf("node %d: serial shunt: %w", nc.Ordinal, err)
		}
		return src, nil
	case "modbus":
		src, err := sensor.NewModbusMeter(nc.ModbusEndpoint, 1, 0)
		if err != nil {
			return nil, fmt.Errorf("node %d: modbus meter: %w", nc.Ordinal, err)
		}
		return src, nil
	case "isacan":
		return sensor.NewIsaCan(hw), nil
	default:
		src := sensor.NewSim()
		if s.sim != nil {
			s.sim.AttachCurrent(nc.Ordinal, src)
		}
		return src, nil
	}
}

func (s *Service) buildScheduler() {
	sc := s.cfg.Scheduler
	s.scheduler = sched.New(time.Duration(sc.BaseTickMs)*time.Millisecond, s.log)

	acquire := time.Duration(sc.AcquireMs) * time.Millisecond
	broadcast := time.Duration(sc.BroadcastMs) * time.Millisecond

	for i, node := range s.nodes {
		n := node
		s.scheduler.AddTask(fmt.Sprintf("acquire/%d", i), func() { n.Acquire(acquire) }, acquire)
	}
	for i, node := range s.nodes {
		n := node
		s.scheduler.AddTask(fmt.Sprintf("broadcast/%d", i), n.Broadcast, broadcast)
	}
	if s.sim != nil {
		s.scheduler.AddTask("simulation", func() { s.sim.Step(acquire) }, acquire)
	}
	for i, t := range s.telemetry {
		t := t
		s.scheduler.AddTask(fmt.Sprintf("telemetry/%d", i), func() {
			if err := t.Flush(s.ctx); err != nil {
				s.log.Warn("telemetry flush failed", "error", err)
			}
		}, time.Duration(sc.TelemetryMs)*time.Millisecond)
	}
}

func (s *Service) pagePath(ordinal int) string {
	return filepath.Join(s.cfg.Service.ParamDir, fmt.Sprintf("params-%d.page", ordinal))
}

// pageKey returns the configured CMAC key, or nil for the built-in default.
func (s *Service) pageKey() []byte {
	if s.cfg.Service.PageKey == "" {
		return nil
	}
	return []byte(s.cfg.Service.PageKey)
}

// ExportParams writes the head node's parameter page as Intel HEX.
func (s *Service) ExportParams(w io.Writer) error {
	if len(s.nodes) == 0 {
		return fmt.Errorf("no nodes configured")
	}
	return s.nodes[0].Store().ExportHex(w, s.pageKey())
}

// saveParams writes the node's parameter page under a suspend inhibitor so
// the rename cannot race a host sleep.
func (s *Service) saveParams(node *Node, path string) error {
	inhibitor, err := NewSuspendInhibitor("BMS_PARAM_SAVE_INHIBITOR", "PARAM_PAGE_WRITE", "block")
	if err != nil {
		s.log.Warn("saving without suspend inhibitor", "error", err)
	} else {
		defer inhibitor.Release()
	}
	if err := node.Store().SaveFile(path, s.pageKey()); err != nil {
		return err
	}
	s.log.Info("parameter page saved", "path", path)
	return nil
}

// Start launches the state machines, the scheduler and the bus reader.
func (s *Service) Start() error {
	if s.socket != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.socket.Run(s.ctx); err != nil && s.ctx.Err() == nil {
				s.log.Error("socketcan reader stopped", "error", err)
			}
		}()
	}

	for _, node := range s.nodes {
		n := node
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			n.sm.Run(s.ctx)
		}()
	}

	for _, t := range s.telemetry {
		t := t
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			t.HandleCommands(s.ctx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scheduler.Run(s.ctx)
	}()

	s.log.Info("service started", "nodes", len(s.nodes), "backend", s.cfg.Service.Bus.Backend)
	return nil
}

// Stop cancels everything and waits for the workers, bounded so a stuck
// Redis connection cannot hang shutdown forever.
func (s *Service) Stop() {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("shutdown timed out, exiting anyway")
	}

	if s.redis != nil {
		s.redis.Close()
	}
	s.log.Info("service stopped")
}

// Nodes exposes the chain for tests and diagnostics.
func (s *Service) Nodes() []*Node { return s.nodes }

// Scheduler exposes the cooperative scheduler, mainly for tests that step
// time by hand.
func (s *Service) Scheduler() *sched.Scheduler { return s.scheduler }

package bms

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"bms-service/bms/fsm"
	"bms-service/param"
)

// CommandChannel is the pub/sub channel operator tooling writes to.
const CommandChannel = "bms:commands"

var modeNames = map[int]string{
	fsm.ModeBoot:     "boot",
	fsm.ModeGetAddr:  "get-addr",
	fsm.ModeSetAddr:  "set-addr",
	fsm.ModeReqInfo:  "req-info",
	fsm.ModeRecvInfo: "recv-info",
	fsm.ModeInit:     "init",
	fsm.ModeSelfTest: "self-test",
	fsm.ModeRun:      "run",
	fsm.ModeIdle:     "idle",
	fsm.ModeError:    "error",
}

func modeName(mode int) string {
	if s, ok := modeNames[mode]; ok {
		return s
	}
	return "unknown"
}

// Telemetry mirrors one node's spot values into a Redis hash and publishes
// field names on the hash key when they change. Faults additionally go to
// a per-node fault set and the events:faults stream.
type Telemetry struct {
	client *redis.Client
	node   *Node
	index  int
	log    *slog.Logger

	last map[string]string
}

// NewTelemetry attaches a publisher to a node. Fault transitions publish
// immediately; everything else goes out on Flush.
func NewTelemetry(client *redis.Client, node *Node, index int, log *slog.Logger) *Telemetry {
	t := &Telemetry{
		client: client,
		node:   node,
		index:  index,
		log:    log.With("node", index),
		last:   make(map[string]string),
	}
	node.Faults().Notify(t.onFault)
	node.Store().Subscribe(t.onParamChange)
	return t
}

func (t *Telemetry) key() string         { return fmt.Sprintf("bms:%d", t.index) }
func (t *Telemetry) faultKey() string    { return t.key() + ":fault" }
func (t *Telemetry) settingsKey() string { return t.key() + ":settings" }

func (t *Telemetry) snapshot() map[string]string {
	s := t.node.Store()
	fields := map[string]string{
		"mode":            modeName(s.GetInt(param.OpMode)),
		"addr":            strconv.Itoa(s.GetInt(param.ModAddr)),
		"modules":         strconv.Itoa(s.GetInt(param.ModNum)),
		"cells":           strconv.Itoa(s.GetInt(param.TotalCells)),
		"voltage":         strconv.Itoa(s.GetInt(param.UTotal)),
		"current":         strconv.FormatFloat(s.Get(param.Idc), 'f', 1, 64),
		"charge":          strconv.Itoa(s.GetInt(param.Soc)),
		"state-of-health": strconv.Itoa(s.GetInt(param.Soh)),
		"cell:avg":        strconv.Itoa(s.GetInt(param.UAvg)),
		"cell:min":        strconv.Itoa(s.GetInt(param.UMin)),
		"cell:max":        strconv.Itoa(s.GetInt(param.UMax)),
		"cell:delta":      strconv.Itoa(s.GetInt(param.UDelta)),
		"temperature:0":   strconv.Itoa(s.GetInt(param.TempMin)),
		"temperature:1":   strconv.Itoa(s.GetInt(param.TempMax)),
		"charge-limit":    strconv.Itoa(s.GetInt(param.ChargeLim)),
		"discharge-limit": strconv.Itoa(s.GetInt(param.DischargeLim)),
		"uptime":          strconv.Itoa(s.GetInt(param.Uptime)),
		"last-error":      FaultCode(s.GetInt(param.LastErr)).String(),
	}
	for i := 0; i < t.node.cells.CellCount() && i < param.MaxCells; i++ {
		fields["cell:"+strconv.Itoa(i)] = strconv.Itoa(s.GetInt(param.CellVoltage(i)))
	}
	return fields
}

// Flush writes the hash and publishes the names of fields that changed
// since the previous successful flush.
func (t *Telemetry) Flush(ctx context.Context) error {
	fields := t.snapshot()

	pipe := t.client.Pipeline()
	hset := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		hset[k] = v
	}
	pipe.HSet(ctx, t.key(), hset)
	for k, v := range fields {
		if t.last[k] != v {
			pipe.Publish(ctx, t.key(), k)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("telemetry flush: %w", err)
	}
	t.last = fields
	return nil
}

// onFault maintains the fault set and appends to the events:faults stream.
// Clear events carry the negated code, matching the dashboard convention.
func (t *Telemetry) onFault(rec Record, active bool) {
	ctx := context.TODO()
	code := strconv.Itoa(int(rec.Code))

	pipe := t.client.Pipeline()
	if active {
		pipe.SAdd(ctx, t.faultKey(), code)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: "events:faults",
			MaxLen: 1000,
			Values: map[string]interface{}{
				"group":       t.key(),
				"code":        code,
				"origin":      strconv.Itoa(int(rec.Node)),
				"description": rec.Code.Describe(),
			},
		})
	} else {
		pipe.SRem(ctx, t.faultKey(), code)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: "events:faults",
			MaxLen: 1000,
			Values: map[string]interface{}{
				"group": t.key(),
				"code":  "-" + code,
			},
		})
	}
	pipe.Publish(ctx, t.key()+" fault", "fault")
	if _, err := pipe.Exec(ctx); err != nil {
		t.log.Warn("failed to publish fault transition", "error", err)
	}
}

// onParamChange mirrors a settable-parameter edit into the settings hash as
// soon as it lands, so a "set" command is visible to dashboards before the
// next Flush.
func (t *Telemetry) onParamChange(id param.ID) {
	ctx := context.TODO()
	name := id.String()
	value := strconv.FormatFloat(t.node.Store().Get(id), 'f', -1, 64)

	pipe := t.client.Pipeline()
	pipe.HSet(ctx, t.settingsKey(), name, value)
	pipe.Publish(ctx, t.settingsKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		t.log.Warn("failed to publish parameter change", "name", name, "error", err)
	}
}

// HandleCommands consumes operator commands from the command channel until
// ctx is done. Understood payloads:
//
//	reset-error
//	save-params
//	set <name> <value>
func (t *Telemetry) HandleCommands(ctx context.Context) {
	pubsub := t.client.Subscribe(ctx, CommandChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		t.log.Error("command subscription failed", "error", err)
		return
	}
	t.log.Info("subscribed to command channel", "channel", CommandChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			t.dispatch(msg.Payload)
		}
	}
}

func (t *Telemetry) dispatch(payload string) {
	parts := strings.Fields(payload)
	if len(parts) == 0 {
		return
	}
	switch parts[0] {
	case "reset-error":
		t.log.Info("operator reset via redis")
		if t.node.sm != nil {
			t.node.sm.SendEvent(fsm.EvOperatorReset)
		}
	case "save-params":
		if t.node.saveParams != nil {
			if err := t.node.saveParams(); err != nil {
				t.log.Error("parameter save failed", "error", err)
			}
		}
	case "set":
		if len(parts) != 3 {
			t.log.Warn("malformed set command", "payload", payload)
			return
		}
		v, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			t.log.Warn("malformed set value", "payload", payload)
			return
		}
		if err := t.node.Store().SetByName(parts[1], v); err != nil {
			t.log.Warn("set rejected", "name", parts[1], "error", err)
		}
	default:
		t.log.Warn("unknown command", "payload", payload)
	}
}

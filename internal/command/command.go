// Package command implements the textual BLEOp operator commands. An
// operation is prepared field by field and then queued:
//
//	BLEOp1 001A22092EE0; BLEOp2 3e135142-654f-9090-134a-a6ff5bb77046; BLEOp3 3fa4585a-ce4a-3bad-db4b-b8df8179ea09; BLEOp4 03; BLEOp10
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/chaz8081/blemux/internal/ble"
)

// Command numbers.
const (
	OpStatus     = 0
	OpMAC        = 1
	OpService    = 2
	OpChar       = 3
	OpWrite      = 4
	OpRead       = 5
	OpNotifyChar = 6
	OpPublish    = 9
	OpQueue      = 10
	OpCancel     = 11
)

const prefix = "bleop"

var (
	// ErrUnknownCommand is returned for anything that is not a BLEOp command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNotPrepared is returned when a field is set before BLEOp1.
	ErrNotPrepared = errors.New("no operation prepared, use BLEOp1 first")
)

// Engine is the part of ble.Engine the console drives.
type Engine interface {
	Submit(op *ble.Operation) error
	Cancel(id uint32) error
	Status() ble.Snapshot
}

// Publisher receives operations for dry-run publishing.
type Publisher interface {
	PublishOperation(op *ble.Operation) error
}

// Reply is the JSON answer to one command.
type Reply struct {
	Result string        `json:"BLEOp"`
	OpID   uint32        `json:"opid,omitempty"`
	Status *ble.Snapshot `json:"status,omitempty"`
}

// String renders the reply as JSON.
func (r Reply) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"BLEOp":%q}`, err.Error())
	}
	return string(b)
}

func done() Reply { return Reply{Result: "Done"} }

func failed(err error) Reply { return Reply{Result: "Error: " + err.Error()} }

// Console holds the operation being prepared and executes command lines.
// It is safe for concurrent use.
type Console struct {
	engine Engine
	pub    Publisher
	logger *slog.Logger

	mu       sync.Mutex
	prepared *ble.Operation
}

// NewConsole creates a console driving engine. pub may be nil, in which
// case BLEOp9 fails.
func NewConsole(engine Engine, pub Publisher, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{engine: engine, pub: pub, logger: logger}
}

// Execute runs every ';'-separated command of line in order and returns
// one reply per command. A failing command does not stop the rest.
func (c *Console) Execute(line string) []Reply {
	var replies []Reply
	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r := c.run(part)
		c.logger.Debug("[CMD] executed", "command", part, "reply", r.Result)
		replies = append(replies, r)
	}
	return replies
}

// Parse splits a single command into its number and argument.
func Parse(cmd string) (int, string, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(cmd), " ")
	if len(name) <= len(prefix) || !strings.EqualFold(name[:len(prefix)], prefix) {
		return 0, "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	n, err := strconv.Atoi(name[len(prefix):])
	if err != nil || n < 0 {
		return 0, "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return n, strings.TrimSpace(arg), nil
}

func (c *Console) run(cmd string) Reply {
	n, arg, err := Parse(cmd)
	if err != nil {
		return failed(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch n {
	case OpStatus:
		snap := c.engine.Status()
		r := done()
		r.Status = &snap
		return r
	case OpMAC:
		mac, err := ble.NormalizeMAC(arg)
		if err != nil {
			return failed(err)
		}
		c.prepared = ble.NewOperation(mac, "", "")
		return done()
	case OpCancel:
		id, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return failed(fmt.Errorf("invalid opid %q", arg))
		}
		if err := c.engine.Cancel(uint32(id)); err != nil {
			return failed(err)
		}
		return done()
	}

	op := c.prepared
	if op == nil {
		if n == OpService || n == OpChar || n == OpWrite || n == OpRead ||
			n == OpNotifyChar || n == OpPublish || n == OpQueue {
			return failed(ErrNotPrepared)
		}
		return failed(fmt.Errorf("%w: BLEOp%d", ErrUnknownCommand, n))
	}

	switch n {
	case OpService:
		if err := ble.ValidateUUID(arg); err != nil {
			return failed(err)
		}
		op.Service = arg
	case OpChar:
		if err := ble.ValidateUUID(arg); err != nil {
			return failed(err)
		}
		op.Characteristic = arg
	case OpWrite:
		data, err := ble.ParseHex(arg)
		if err != nil {
			return failed(err)
		}
		if err := op.SetWrite(data); err != nil {
			return failed(err)
		}
	case OpRead:
		op.Read = true
	case OpNotifyChar:
		if err := ble.ValidateUUID(arg); err != nil {
			return failed(err)
		}
		op.NotifyCharacteristic = arg
	case OpPublish:
		if c.pub == nil {
			return failed(errors.New("publishing not configured"))
		}
		if err := c.pub.PublishOperation(op); err != nil {
			return failed(err)
		}
	case OpQueue:
		if err := c.engine.Submit(op); err != nil {
			return failed(err)
		}
		c.prepared = nil
		c.logger.Info("[CMD] operation queued", "opid", op.ID, "mac", op.MAC)
		return Reply{Result: "Queued", OpID: op.ID}
	default:
		return failed(fmt.Errorf("%w: BLEOp%d", ErrUnknownCommand, n))
	}
	return done()
}

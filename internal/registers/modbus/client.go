// internal/registers/modbus/client.go
package modbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/scd30-monitor/internal/config"
	"github.com/tamzrod/scd30-monitor/internal/registers"
)

// Device is the blocking subset of modbus.Client used here.
type Device interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error) // FC 3
	WriteSingleRegister(address, value uint16) ([]byte, error)     // FC 6
}

type request struct {
	write bool
	addr  uint16
	arg   uint16 // quantity for reads, value for writes
	tx    *registers.Transaction
}

// Client implements registers.Client on top of a blocking Modbus device.
// Requests are executed one at a time by the goroutine started with Run.
type Client struct {
	dev  Device
	reqs chan request
	log  *slog.Logger
}

const queueSize = 4

// New wraps dev. Run must be started before transactions can resolve.
func New(dev Device, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		dev:  dev,
		reqs: make(chan request, queueSize),
		log:  log,
	}
}

// Open connects to the configured transport and returns the client plus its closer.
func Open(cfg config.DeviceConfig, log *slog.Logger) (*Client, func() error, error) {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond

	switch cfg.Transport {
	case "rtu":
		h := modbus.NewRTUClientHandler(cfg.SerialPort)
		h.BaudRate = cfg.BaudRate
		h.DataBits = 8
		h.Parity = "N"
		h.StopBits = 1
		h.SlaveId = cfg.SlaveID
		h.Timeout = timeout

		if err := h.Connect(); err != nil {
			return nil, nil, fmt.Errorf("modbus rtu %s: %w", cfg.SerialPort, err)
		}
		return New(modbus.NewClient(h), log), h.Close, nil

	case "tcp":
		h := modbus.NewTCPClientHandler(cfg.Endpoint)
		h.SlaveId = cfg.SlaveID
		h.Timeout = timeout

		if err := h.Connect(); err != nil {
			return nil, nil, fmt.Errorf("modbus tcp %s: %w", cfg.Endpoint, err)
		}
		return New(modbus.NewClient(h), log), h.Close, nil

	default:
		return nil, nil, fmt.Errorf("modbus: unsupported transport %q", cfg.Transport)
	}
}

// ---- registers.Client interface ----

func (c *Client) ReadHoldingRegisters(addr, count uint16) *registers.Transaction {
	return c.submit(request{addr: addr, arg: count})
}

func (c *Client) WriteHoldingRegister(addr, value uint16) *registers.Transaction {
	return c.submit(request{write: true, addr: addr, arg: value})
}

func (c *Client) submit(r request) *registers.Transaction {
	r.tx = registers.NewTransaction()
	select {
	case c.reqs <- r:
	default:
		r.tx.Resolve(registers.Result{Kind: registers.Fault, Err: errors.New("modbus: request queue full")})
	}
	return r.tx
}

// Run executes queued requests until ctx is done.
// Requests still queued at shutdown resolve as faults.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.drain(ctx.Err())
			return
		case r := <-c.reqs:
			r.tx.Resolve(c.execute(r))
		}
	}
}

func (c *Client) drain(err error) {
	for {
		select {
		case r := <-c.reqs:
			r.tx.Resolve(registers.Result{Kind: registers.Fault, Err: err})
		default:
			return
		}
	}
}

func (c *Client) execute(r request) registers.Result {
	if r.write {
		raw, err := c.dev.WriteSingleRegister(r.addr, r.arg)
		if err != nil {
			c.log.Debug("modbus write failed", "addr", fmt.Sprintf("0x%04X", r.addr), "err", err)
			return registers.Result{Kind: registers.Fault, Err: err}
		}
		return registers.Result{Kind: registers.WriteAck, Values: unpackRegisters(raw)}
	}

	raw, err := c.dev.ReadHoldingRegisters(r.addr, r.arg)
	if err != nil {
		c.log.Debug("modbus read failed", "addr", fmt.Sprintf("0x%04X", r.addr), "qty", r.arg, "err", err)
		return registers.Result{Kind: registers.Fault, Err: err}
	}
	return registers.Result{Kind: registers.ReadData, Values: unpackRegisters(raw)}
}

// ---- helpers (pure geometry) ----

// unpackRegisters decodes big-endian register pairs; a trailing odd byte is dropped.
func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}

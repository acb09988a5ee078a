package battery

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"maginkcal/internal/config"
	appLog "maginkcal/internal/log"
)

// Status represents current battery status.
type Status struct {
	// Percent is the battery level in 0–100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts, if known.
	VoltageMv int `json:"voltage_mv"`
}

// Reader abstracts how we obtain battery information.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// PiSugar3 registers.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// DefaultI2CAddr is the PiSugar3 battery controller address.
const DefaultI2CAddr = 0x57

type staticReader struct {
	percent int
}

// NewStaticReader returns a Reader that always reports percent. It is used
// on machines without a battery controller.
func NewStaticReader(percent int) Reader {
	return &staticReader{percent: clampPercent(percent)}
}

func (s *staticReader) Read(_ context.Context) (Status, error) {
	return Status{Percent: s.percent}, nil
}

// i2cReader talks to a real battery controller over I2C. The intended
// target is PiSugar3, which exposes:
//   - 0x22 (high), 0x23 (low): battery voltage in millivolts
//   - 0x2A: battery percentage (0–100)
type i2cReader struct {
	busName string
	addr    uint16
}

// NewI2CReader constructs an I2C-backed Reader.
//
//   - busName: I2C bus identifier for periph.io ("" for default, typically /dev/i2c-1 on Raspberry Pi)
//   - addr:    7-bit I2C address of the battery controller
//
// 구성만 보관하고, 실제 I2C 연결/host.Init은 Read 시점에 수행한다.
func NewI2CReader(busName string, addr uint16) Reader {
	return &i2cReader{busName: busName, addr: addr}
}

// Read implements Reader for the I2C-backed reader.
func (r *i2cReader) Read(_ context.Context) (Status, error) {
	// Linux 가 아닌 경우에는 I2C를 시도하지 않는다.
	if runtime.GOOS != "linux" {
		return Status{}, errors.New("battery: i2c reader unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return Status{}, fmt.Errorf("battery: host init: %w", err)
	}

	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Status{}, fmt.Errorf("battery: open i2c bus %q: %w", r.busName, err)
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}
	return readPiSugar(dev)
}

// readPiSugar reads the voltage and percentage registers from dev.
func readPiSugar(dev interface{ Tx(w, r []byte) error }) (Status, error) {
	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, fmt.Errorf("battery: read register %#x: %w", reg, err)
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(regPercent)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Percent:   clampPercent(int(pct)),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

type fallbackReader struct {
	primary  Reader
	fallback Reader
}

// WithFallback returns a Reader that consults fallback whenever primary
// fails. The failure is logged, never returned.
func WithFallback(primary, fallback Reader) Reader {
	return &fallbackReader{primary: primary, fallback: fallback}
}

func (f *fallbackReader) Read(ctx context.Context) (Status, error) {
	st, err := f.primary.Read(ctx)
	if err == nil {
		return st, nil
	}
	appLog.Warn("battery read failed, using fallback", err)
	return f.fallback.Read(ctx)
}

// FromConfig returns the Reader selected by cfg. An I2C reader falls back
// to the static percentage when the controller cannot be read.
func FromConfig(cfg config.BatteryConfig) Reader {
	static := NewStaticReader(cfg.StaticLevel())
	if cfg.Source != config.BatterySourceI2C {
		return static
	}
	addr := cfg.I2CAddr
	if addr == 0 {
		addr = DefaultI2CAddr
	}
	return WithFallback(NewI2CReader(cfg.I2CBus, addr), static)
}

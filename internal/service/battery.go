package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrBatteryUnavailable is returned when the platform exposes no battery signal
var ErrBatteryUnavailable = errors.New("battery level unavailable")

// BatteryStatus is a best-effort reading of the device battery
type BatteryStatus struct {
	Level    int  `json:"level"` // percent
	Charging bool `json:"charging"`
}

// BatteryProvider reads the battery state
type BatteryProvider interface {
	Battery(ctx context.Context) (BatteryStatus, error)
}

// SysfsBattery reads a Linux power_supply directory such as /sys/class/power_supply/BAT0
type SysfsBattery struct {
	Dir string
}

// Battery reads the capacity and status files
func (b SysfsBattery) Battery(ctx context.Context) (BatteryStatus, error) {
	if b.Dir == "" {
		return BatteryStatus{}, ErrBatteryUnavailable
	}

	raw, err := os.ReadFile(filepath.Join(b.Dir, "capacity"))
	if err != nil {
		return BatteryStatus{}, fmt.Errorf("%w: %v", ErrBatteryUnavailable, err)
	}
	level, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return BatteryStatus{}, fmt.Errorf("%w: invalid capacity %q", ErrBatteryUnavailable, strings.TrimSpace(string(raw)))
	}

	status := BatteryStatus{Level: level}
	if rawStatus, err := os.ReadFile(filepath.Join(b.Dir, "status")); err == nil {
		s := strings.TrimSpace(string(rawStatus))
		status.Charging = s == "Charging" || s == "Full"
	}
	return status, nil
}

// NoBattery is used where no battery signal exists
type NoBattery struct{}

// Battery always reports the signal as unavailable
func (NoBattery) Battery(context.Context) (BatteryStatus, error) {
	return BatteryStatus{}, ErrBatteryUnavailable
}

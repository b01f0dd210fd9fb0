// Package system restarts the device and reports its resource counters.
package system

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// Restarter performs an unconditional device restart.
type Restarter interface {
	Restart(reason string) error
}

// DefaultRestartCommand reboots the host through systemd.
var DefaultRestartCommand = []string{"systemctl", "reboot"}

// ExecRestarter runs a restart command. When the command fails it exits
// the process so a supervisor can start it again.
type ExecRestarter struct {
	command []string
	logger  *zap.Logger
	run     func(ctx context.Context, name string, args ...string) error
	exit    func(code int)
}

// NewExecRestarter creates a restarter for command, or
// DefaultRestartCommand when empty.
func NewExecRestarter(command []string, logger *zap.Logger) *ExecRestarter {
	if len(command) == 0 {
		command = DefaultRestartCommand
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRestarter{
		command: command,
		logger:  logger,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
		exit: os.Exit,
	}
}

func (r *ExecRestarter) Restart(reason string) error {
	r.logger.Warn("restarting device", zap.String("reason", reason), zap.Strings("command", r.command))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.run(ctx, r.command[0], r.command[1:]...); err != nil {
		r.logger.Error("restart command failed, exiting", zap.Error(err))
		_ = r.logger.Sync()
		r.exit(1)
		return fmt.Errorf("restart command failed: %w", err)
	}
	return nil
}

// Counters are the runtime resource figures of the system section.
type Counters struct {
	HeapUsedBytes       uint64 `json:"heapUsedBytes"`
	HeapFreeBytes       uint64 `json:"heapFreeBytes"`
	HeapMaxAllocBytes   uint64 `json:"heapMaxAllocBytes"`
	FileSystemUsedBytes int64  `json:"fileSystemUsedBytes"`
	Goroutines          int    `json:"goroutines"`
	UptimeSeconds       int64  `json:"uptimeSeconds"`
}

// SizeFunc reports the size of persisted state.
type SizeFunc func() int64

// CounterSource samples Counters.
type CounterSource struct {
	start time.Time
	size  SizeFunc
}

// NewCounterSource measures uptime from start. size may be nil.
func NewCounterSource(start time.Time, size SizeFunc) *CounterSource {
	return &CounterSource{start: start, size: size}
}

// Sample reads the current counters.
func (c *CounterSource) Sample() Counters {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	out := Counters{
		HeapUsedBytes:     m.HeapAlloc,
		HeapFreeBytes:     m.HeapIdle - m.HeapReleased,
		HeapMaxAllocBytes: m.HeapSys,
		Goroutines:        runtime.NumGoroutine(),
		UptimeSeconds:     int64(time.Since(c.start).Seconds()),
	}
	if c.size != nil {
		out.FileSystemUsedBytes = c.size()
	}
	return out
}

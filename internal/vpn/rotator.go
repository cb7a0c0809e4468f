// Package vpn rotates the outbound network identity through a VPN CLI.
package vpn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner executes an external command and returns its combined output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Config configures the rotator
type Config struct {
	Binary  string        // VPN CLI, e.g. nordvpn
	Country string        // connect target
	Settle  time.Duration // wait after connecting before traffic resumes
	Timeout time.Duration // per-command timeout
}

// Rotator implements domain.IdentityRotator by reconnecting the VPN
type Rotator struct {
	cfg   Config
	run   Runner
	sleep func(ctx context.Context, d time.Duration) error
	log   zerolog.Logger

	mu        sync.Mutex
	rotations int
}

// NewRotator creates a VPN rotator. A nil runner uses ExecRunner.
func NewRotator(cfg Config, run Runner, log zerolog.Logger) *Rotator {
	if cfg.Binary == "" {
		cfg.Binary = "nordvpn"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if run == nil {
		run = ExecRunner
	}
	return &Rotator{
		cfg:   cfg,
		run:   run,
		sleep: sleepCtx,
		log:   log.With().Str("component", "vpn").Logger(),
	}
}

// RotateIdentity disconnects and reconnects the VPN.
// A failed disconnect is logged and the connect is still attempted.
func (r *Rotator) RotateIdentity(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if out, err := r.exec(ctx, "disconnect"); err != nil {
		r.log.Warn().Err(err).Str("output", out).Msg("VPN disconnect failed")
	}

	args := []string{"connect"}
	if r.cfg.Country != "" {
		args = append(args, r.cfg.Country)
	}
	out, err := r.exec(ctx, args...)
	if err != nil {
		return fmt.Errorf("%s connect failed: %w (output: %s)", r.cfg.Binary, err, out)
	}

	r.rotations++
	r.log.Info().Str("country", r.cfg.Country).Str("output", out).Msg("VPN reconnected")

	if r.cfg.Settle > 0 {
		if err := r.sleep(ctx, r.cfg.Settle); err != nil {
			return err
		}
	}
	return nil
}

// Rotations returns the number of successful reconnects
func (r *Rotator) Rotations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotations
}

func (r *Rotator) exec(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	out, err := r.run(ctx, r.cfg.Binary, args...)
	text := strings.TrimSpace(string(out))
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return text, fmt.Errorf("timed out after %s: %w", r.cfg.Timeout, err)
	}
	return text, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Noop is the rotator used when no VPN is configured
type Noop struct{}

// RotateIdentity does nothing
func (Noop) RotateIdentity(context.Context) error {
	return nil
}

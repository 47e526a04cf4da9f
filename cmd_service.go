package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// serviceStopGrace is added to the shutdown timeout when the service manager
// asks the web UI to stop.
const serviceStopGrace = 5 * time.Second

// program runs the web UI under the OS service manager.
type program struct {
	a      *app
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start must not block; the service manager waits for it to return.
func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.err = p.a.runServe(ctx)
		var ee *exitError
		if p.err != nil && !errors.As(p.err, &ee) {
			p.a.log.Error("web UI stopped with error", zap.Error(p.err))
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-time.After(p.a.cfg.ShutdownTimeout + serviceStopGrace):
		return errors.New("timeout waiting for the web UI to stop")
	}
}

func serviceConfig() *service.Config {
	wd, _ := os.Getwd()
	return &service.Config{
		Name:             "zimage",
		DisplayName:      "Z-Image Turbo Web UI",
		Description:      "Local text-to-image web UI for Z-Image Turbo.",
		Arguments:        []string{"service", "run"},
		WorkingDirectory: wd,
		Option: service.KeyValue{
			"StartType": "automatic",
		},
	}
}

func newServiceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install and control the web UI as an OS service",
	}

	control := func(action, done string) *cobra.Command {
		return &cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the service", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := service.New(&program{a: a}, serviceConfig())
				if err != nil {
					return fmt.Errorf("failed to create service: %w", err)
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("failed to %s service: %w", action, err)
				}
				fmt.Fprintf(a.out, "Service %s\n", done)
				return nil
			},
		}
	}

	uninstall := control("uninstall", "uninstalled")
	uninstall.Aliases = []string{"remove"}

	cmd.AddCommand(
		control("install", "installed"),
		uninstall,
		control("start", "started"),
		control("stop", "stopped"),
		control("restart", "restarted"),
		&cobra.Command{
			Use:   "status",
			Short: "Show the service status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := service.New(&program{a: a}, serviceConfig())
				if err != nil {
					return fmt.Errorf("failed to create service: %w", err)
				}
				status, err := s.Status()
				if err != nil && !errors.Is(err, service.ErrNotInstalled) {
					return fmt.Errorf("failed to get service status: %w", err)
				}
				fmt.Fprintf(a.out, "Service is %s\n", statusText(status, err))
				return nil
			},
		},
		&cobra.Command{
			Use:   "run",
			Short: "Run the web UI under the service manager (or in the foreground)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				prg := &program{a: a}
				s, err := service.New(prg, serviceConfig())
				if err != nil {
					return fmt.Errorf("failed to create service: %w", err)
				}
				if err := s.Run(); err != nil {
					return fmt.Errorf("service run failed: %w", err)
				}
				return prg.err
			},
		},
	)
	return cmd
}

func statusText(status service.Status, err error) string {
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed"
	}
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "in an unknown state"
	}
}

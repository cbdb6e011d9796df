//go:build windows

// service_windows.go runs the lifecycle host as a Windows service using
// github.com/kardianos/service. Service Stop cancels the host context, which
// the shutdown manager treats as a shutdown request.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"app_lifecycle/core"

	"github.com/kardianos/service"
)

// stopTimeout bounds how long Stop waits for the host to finish Closed.
const stopTimeout = 30 * time.Second

// Program implements service.Interface for Windows Service integration.
type Program struct {
	// ctx is cancelled by Stop to request shutdown
	ctx    context.Context
	cancel context.CancelFunc
	// exit is closed once the host returned
	exit chan struct{}
	// code is the host exit code, valid after exit is closed
	code int
}

// Start is called when the service is started. The host runs in a goroutine.
func (p *Program) Start(s service.Service) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.exit = make(chan struct{})

	go p.run()

	return nil
}

// Stop is called when the service is stopped.
// It requests shutdown and waits for the host to complete it.
func (p *Program) Stop(s service.Service) error {
	p.cancel()

	select {
	case <-p.exit:
	case <-time.After(stopTimeout):
		return fmt.Errorf("timeout waiting for service to stop")
	}

	return nil
}

func (p *Program) run() {
	defer close(p.exit)

	p.code = run(p.ctx, os.Stdout)

	// The host ended on its own (startup failure); report it to the SCM.
	if p.ctx.Err() == nil {
		os.Exit(p.code)
	}
}

// ServiceConfig returns the service configuration for Windows.
func ServiceConfig() *service.Config {
	name := serviceName()
	return &service.Config{
		Name:        name,
		DisplayName: name,
		Description: "Runs the application lifecycle host: startup, vetoable closing and closed phases",
		Option: service.KeyValue{
			"StartType": "automatic",
		},
	}
}

func newService() (service.Service, error) {
	s, err := service.New(&Program{}, ServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, nil
}

// RunAsService runs the application as a Windows service.
// Returns true if running as a service, false if running interactively.
func RunAsService() (bool, error) {
	if service.Interactive() {
		return false, nil
	}

	s, err := newService()
	if err != nil {
		return false, err
	}

	if err := s.Run(); err != nil {
		return true, fmt.Errorf("service run failed: %w", err)
	}

	return true, nil
}

// ControlService applies one of the service.ControlAction verbs.
func ControlService(action string) error {
	s, err := newService()
	if err != nil {
		return err
	}

	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("failed to %s service: %w", action, err)
	}

	fmt.Printf("Service %s succeeded\n", action)
	return nil
}

// ServiceStatus returns the current status of the Windows service.
func ServiceStatus() (service.Status, error) {
	s, err := newService()
	if err != nil {
		return service.StatusUnknown, err
	}

	status, err := s.Status()
	if err != nil {
		return service.StatusUnknown, fmt.Errorf("failed to get service status: %w", err)
	}

	return status, nil
}

// HandleServiceCommand handles service-related command-line arguments.
// Returns true if a service command was handled, false otherwise.
func HandleServiceCommand(args []string) bool {
	if len(args) < 2 {
		return false
	}

	cmd := args[1]
	switch {
	case isHelpCommand(cmd):
		PrintServiceUsage(os.Stdout)
		return true
	case cmd == "status":
		status, err := ServiceStatus()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(core.ExitCodeError)
		}
		switch status {
		case service.StatusRunning:
			fmt.Println("Service is running")
		case service.StatusStopped:
			fmt.Println("Service is stopped")
		default:
			fmt.Println("Service status unknown")
		}
		return true
	case isServiceCommand(cmd):
		if cmd == "remove" {
			cmd = "uninstall"
		}
		if err := ControlService(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(core.ExitCodeError)
		}
		return true
	default:
		return false
	}
}

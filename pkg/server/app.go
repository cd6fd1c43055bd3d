package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	applogger "SignalLoop/pkg/logger"
)

// Component is one long-running part of the application.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type funcComponent struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (f funcComponent) Name() string { return f.name }

func (f funcComponent) Start(ctx context.Context) error {
	if f.start == nil {
		return nil
	}
	return f.start(ctx)
}

func (f funcComponent) Stop(ctx context.Context) error {
	if f.stop == nil {
		return nil
	}
	return f.stop(ctx)
}

// Func builds a Component from start and stop functions. Either may be nil.
func Func(name string, start, stop func(ctx context.Context) error) Component {
	return funcComponent{name: name, start: start, stop: stop}
}

// App encapsulates the entire application lifecycle.
type App struct {
	log             *applogger.Logger
	components      []Component
	shutdownTimeout time.Duration
	fatal           <-chan error
}

// New creates a new App instance. Components start in order and stop in reverse.
func New(log *applogger.Logger, shutdownTimeout time.Duration, components ...Component) *App {
	if log == nil {
		log = applogger.Nop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &App{log: log, components: components, shutdownTimeout: shutdownTimeout}
}

// WithFatal makes Run return when ch delivers an error.
func (a *App) WithFatal(ch <-chan error) *App {
	a.fatal = ch
	return a
}

// Run starts every component and blocks until ctx is done or a fatal error
// arrives, then stops the started components.
func (a *App) Run(ctx context.Context) error {
	started := 0
	var runErr error
	for _, c := range a.components {
		if err := c.Start(ctx); err != nil {
			runErr = fmt.Errorf("start %s: %w", c.Name(), err)
			a.log.Error("component failed to start", applogger.String("component", c.Name()), applogger.Error(err))
			break
		}
		started++
		a.log.Info("component started", applogger.String("component", c.Name()))
	}

	if runErr == nil {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
		case err := <-a.fatal:
			runErr = err
			a.log.Error("fatal component error", applogger.Error(err))
		}
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
	defer cancel()
	if err := a.stop(stopCtx, started); err != nil {
		runErr = errors.Join(runErr, err)
	}
	a.log.Info("shutdown complete")
	return runErr
}

func (a *App) stop(ctx context.Context, started int) error {
	var errs []error
	for i := started - 1; i >= 0; i-- {
		c := a.components[i]
		if err := c.Stop(ctx); err != nil {
			a.log.Warn("component stop error", applogger.String("component", c.Name()), applogger.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

package logging

import (
	"context"
	"sync/atomic"
)

// Switchable is a Logger whose destination can be replaced while in use.
// Loggers derived through With and WithComponent follow every replacement.
type Switchable struct {
	current atomic.Pointer[Logger]
}

// NewSwitchable creates a Switchable writing to logger.
func NewSwitchable(logger Logger) *Switchable {
	s := &Switchable{}
	s.Set(logger)
	return s
}

// Set replaces the destination logger.
func (s *Switchable) Set(logger Logger) {
	if logger == nil {
		logger = Discard()
	}
	s.current.Store(&logger)
}

func (s *Switchable) load() Logger {
	return *s.current.Load()
}

func (s *Switchable) Debug(ctx context.Context, msg string, fields ...interface{}) {
	s.load().Debug(ctx, msg, fields...)
}

func (s *Switchable) Info(ctx context.Context, msg string, fields ...interface{}) {
	s.load().Info(ctx, msg, fields...)
}

func (s *Switchable) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	s.load().Warn(ctx, err, msg, fields...)
}

func (s *Switchable) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	s.load().Error(ctx, err, msg, fields...)
}

func (s *Switchable) With(fields ...interface{}) Logger {
	return derived{root: s, fields: fields}
}

func (s *Switchable) WithComponent(component string) Logger {
	return derived{root: s, component: component}
}

// derived replays its fields and component onto the current destination
// for every message.
type derived struct {
	root      *Switchable
	component string
	fields    []interface{}
}

func (d derived) resolve() Logger {
	l := d.root.load()
	if d.component != "" {
		l = l.WithComponent(d.component)
	}
	if len(d.fields) > 0 {
		l = l.With(d.fields...)
	}
	return l
}

func (d derived) Debug(ctx context.Context, msg string, fields ...interface{}) {
	d.resolve().Debug(ctx, msg, fields...)
}

func (d derived) Info(ctx context.Context, msg string, fields ...interface{}) {
	d.resolve().Info(ctx, msg, fields...)
}

func (d derived) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	d.resolve().Warn(ctx, err, msg, fields...)
}

func (d derived) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	d.resolve().Error(ctx, err, msg, fields...)
}

func (d derived) With(fields ...interface{}) Logger {
	merged := append(append([]interface{}(nil), d.fields...), fields...)
	return derived{root: d.root, component: d.component, fields: merged}
}

func (d derived) WithComponent(component string) Logger {
	return derived{root: d.root, component: component, fields: d.fields}
}

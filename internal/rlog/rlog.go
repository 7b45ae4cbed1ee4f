// Package rlog is the thin structured-logging shim used across the remoting
// runtime. Call sites read like plain Printf-style logging but are backed
// by a shared zap.SugaredLogger so fields (peer name, grain id, rpc id)
// come out structured instead of interpolated into the message string.
package rlog

import "go.uber.org/zap"

var base = zap.Must(zap.NewProduction()).Sugar()

// Logger is the subset of *zap.SugaredLogger call sites in this repo use.
type Logger struct {
	s *zap.SugaredLogger
}

// Named returns a logger scoped to component, the structured analogue of a
// per-package log prefix like "[endpoint]" or "[silo]".
func Named(component string) *Logger {
	return &Logger{s: base.Named(component)}
}

func (l *Logger) Infow(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l *Logger) Debugw(msg string, kv ...any) { l.s.Debugw(msg, kv...) }

// SetForTest swaps the process-wide base logger; test code uses this to
// install a zaptest logger bound to *testing.T.
func SetForTest(l *zap.SugaredLogger) { base = l }

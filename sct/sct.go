// Package sct is the primitive API a user program is written against
// (§6): a computation built out of the action alphabet (package
// action), run to exhaustion under DPOR (package dpor), with its
// failing traces simplified (package simplify) and the result list
// shaped by an outcome.Settings policy. It is the thin "public API"
// layer the teacher keeps in its own race package -- one small file
// that wires the rest of the module together for a caller who never
// needs to know dpor, simplify, or oracle exist.
package sct

import (
	"context"

	"github.com/kolkov/sct/diagnostics"
	"github.com/kolkov/sct/dpor"
	"github.com/kolkov/sct/memmodel"
	"github.com/kolkov/sct/outcome"
	"github.com/kolkov/sct/simplify"
)

// Program is the user's computation: spawn threads into ctx using the
// action package's types. Re-exported from dpor so callers never need
// to import that package directly.
type Program = dpor.Program

// Settings is the recognized option set (§6 "Settings"), built with
// DefaultSettings and a chain of With* options rather than set by
// field literal, matching how the rest of this module exposes
// configuration (outcome.Bounds, memmodel.Type) as plain values
// wrapped by a small constructor surface.
type Settings struct {
	outcome.Settings

	// Parallel is the worker count Run uses for exploration. 0 or 1
	// selects Driver.Explore's sequential depth-first walk; any larger
	// value switches to Driver.ExploreParallel with that many workers.
	Parallel int
}

// DefaultSettings returns SC memory, no dedup, no discard, no early
// exit, simplification enabled, sequential exploration, and no debug
// sink.
func DefaultSettings() Settings {
	return Settings{Settings: outcome.DefaultSettings()}
}

// Option configures a Settings value.
type Option func(*Settings)

// WithMemType selects the relaxed memory model (§4.B-§4.D) runs
// execute under.
func WithMemType(t memmodel.Type) Option {
	return func(s *Settings) { s.MemType = t }
}

// WithBounds restricts exploration (§4.H "Bounds"); a nil field inside
// b means that bound stays unlimited.
func WithBounds(b outcome.Bounds) Option {
	return func(s *Settings) { s.Bounds = b }
}

// WithEquality supplies the duplicate-detection predicate Run uses to
// collapse repeated results (§4.K); nil restores the "compare failures
// by kind" default.
func WithEquality(f func(a, b outcome.Outcome) bool) Option {
	return func(s *Settings) { s.Equality = f }
}

// WithDiscard supplies the policy Run uses to trim a result's trace,
// or the whole result, before it is returned (§6 "discard").
func WithDiscard(f func(o outcome.Outcome) outcome.Discard) Option {
	return func(s *Settings) { s.Discard = f }
}

// WithEarlyExit supplies a predicate that stops exploration as soon as
// a matching result is produced (§6 "early_exit").
func WithEarlyExit(f func(o outcome.Outcome) bool) Option {
	return func(s *Settings) { s.EarlyExit = f }
}

// WithSimplify toggles trace simplification (§4.J) of failing results.
// Enabled by default.
func WithSimplify(enabled bool) Option {
	return func(s *Settings) { s.Simplify = enabled }
}

// WithDiag attaches a diagnostics sink (§6 "debug_print", "debug_fatal")
// shared across the driver and the simplifier.
func WithDiag(d *diagnostics.Sink) Option {
	return func(s *Settings) { s.Diag = d }
}

// WithParallel sets the worker count Run uses for exploration; values
// below 1 are treated as 1 (sequential).
func WithParallel(workers int) Option {
	return func(s *Settings) { s.Parallel = workers }
}

// Run explores every schedule of program reachable under DPOR (§4.H),
// simplifies each failing trace (§4.J) when enabled, and applies the
// Settings' dedup/discard/early-exit policy (§4.K) to the result list.
// A non-nil error comes only from ExploreParallel's context being
// canceled mid-run (Parallel > 1); the sequential path never fails.
func Run(ctx context.Context, program Program, opts ...Option) ([]outcome.Result, error) {
	settings := DefaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	driver := &dpor.Driver{
		Program:   program,
		MemType:   settings.MemType,
		Bounds:    settings.Bounds,
		Diag:      settings.Diag,
		EarlyExit: settings.EarlyExit,
	}

	var raw []outcome.Result
	var err error
	if settings.Parallel > 1 {
		raw, err = driver.ExploreParallel(ctx, settings.Parallel)
	} else {
		raw = driver.Explore()
	}
	if err != nil {
		return nil, err
	}

	if settings.Simplify {
		simplifier := &simplify.Simplifier{
			Program: simplify.Program(program),
			MemType: settings.MemType,
			Equal:   settings.Equality,
			Diag:    settings.Diag,
		}
		for i, r := range raw {
			if r.Outcome.Failed() {
				raw[i] = simplifier.Simplify(r)
			}
		}
	}

	return shape(raw, settings.Settings), nil
}

// shape applies discard policy and then collapses duplicates under
// s.Equal, keeping the first of each equal run (§4.K). Discard is
// applied before dedup so two results that differ only in a
// since-discarded trace still compare equal.
func shape(results []outcome.Result, s outcome.Settings) []outcome.Result {
	kept := make([]outcome.Result, 0, len(results))
	for _, r := range results {
		trimmed := s.Apply(r)
		duplicate := false
		for _, k := range kept {
			if s.Equal(trimmed.Outcome, k.Outcome) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, trimmed)
		}
	}
	return kept
}

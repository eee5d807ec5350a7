// Package engine implements the five-phase decision pipeline
// (beforeCheck → evaluate → afterDecision → resolution → afterExecution)
// around a policy bundle and an ordered sequence of plugins, serialized
// through a single mutex so stateful plugins never race on their own
// read-decide-write sequence.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentguard/agentguard/pkg/bundle"
	"github.com/agentguard/agentguard/pkg/evaluate"
	"github.com/agentguard/agentguard/pkg/plugin"
	"github.com/agentguard/agentguard/pkg/schema"
)

// Engine is the runtime decision engine. Construct with New, call Init
// when configured with an async policy source, then call Check or
// Protect for every proposed tool invocation.
type Engine struct {
	mu sync.Mutex

	evaluator *evaluate.Evaluator
	loader    *bundle.Loader
	source    PolicySource

	plugins []plugin.Plugin

	callbacks          Callbacks
	defaultEnvironment string
	defaultOwner       string
	approvalTimeout    time.Duration

	audit *auditLog

	telemetry Telemetry

	initialized bool
}

// New validates opts and constructs an Engine. If opts.PolicySource is
// synchronous (file path, JSON, or a parsed bundle), the returned engine
// is immediately usable: the bundle is loaded and every plugin's optional
// Initialize is invoked in declaration order before New returns. If only
// AsyncLoader is set, callers must call Init before the first Check.
func New(opts Options) (*Engine, error) {
	if opts.PolicySource.count() != 1 {
		return nil, ErrNoPolicySource
	}
	seen := make(map[string]struct{}, len(opts.Plugins))
	for _, p := range opts.Plugins {
		if _, dup := seen[p.Name()]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePluginName, p.Name())
		}
		seen[p.Name()] = struct{}{}
	}

	maxAudit := opts.MaxAuditLogSize
	switch {
	case maxAudit == 0:
		maxAudit = defaultMaxAuditLogSize
	case maxAudit < 0:
		maxAudit = 0
	}

	loader := bundle.NewLoader()
	if len(opts.Secret) > 0 {
		loader.Secret = opts.Secret
	}
	if opts.BaseDir != "" {
		loader.BaseDir = opts.BaseDir
	}

	e := &Engine{
		evaluator:          evaluate.New(),
		loader:             loader,
		source:             opts.PolicySource,
		plugins:            opts.Plugins,
		callbacks:          opts.Callbacks,
		defaultEnvironment: opts.DefaultEnvironment,
		defaultOwner:       opts.DefaultOwner,
		approvalTimeout:    opts.ApprovalTimeout,
		audit:              newAuditLog(maxAudit),
		telemetry:          opts.Telemetry,
	}

	if opts.PolicySource.AsyncLoader != nil {
		return e, nil
	}

	if err := e.loadBundle(context.Background()); err != nil {
		return nil, err
	}
	if err := e.initializePlugins(context.Background()); err != nil {
		return nil, err
	}
	e.initialized = true
	return e, nil
}

// Init loads and validates the bundle from an async policy source, then
// runs every plugin's optional Initialize in declaration order. It is a
// no-op error (ErrAlreadyInitialized) if the engine is already usable.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return ErrAlreadyInitialized
	}
	if err := e.loadBundle(ctx); err != nil {
		return err
	}
	if err := e.initializePlugins(ctx); err != nil {
		return err
	}
	e.initialized = true
	return nil
}

// Ready reports whether the engine has a bundle loaded and is safe to
// call Check against.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// Diagnostics returns the rejected-regex diagnostics from the most
// recently loaded bundle.
func (e *Engine) Diagnostics() []evaluate.Diagnostic {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluator.Diagnostics()
}

// Events returns a shallow copy of the audit log.
func (e *Engine) Events() []schema.Event {
	return e.audit.snapshot()
}

func (e *Engine) loadBundle(ctx context.Context) error {
	src := bundle.Source{FilePath: e.source.FilePath, JSON: e.source.JSON, Parsed: e.source.Bundle}
	if e.source.AsyncLoader != nil {
		src.Loader = e.source.AsyncLoader
	}
	b, err := e.loader.Load(ctx, src)
	if err != nil {
		return fmt.Errorf("engine: loading policy bundle: %w", err)
	}
	e.evaluator.UpdateBundle(b)
	for _, d := range e.evaluator.Diagnostics() {
		log.Warn().Str("rule_id", d.RuleID).Str("pattern", d.Pattern).Str("reason", d.Reason).
			Msg("agentguard: rule regex rejected by safety cache")
	}
	return nil
}

func (e *Engine) initializePlugins(ctx context.Context) error {
	for _, p := range e.plugins {
		init, ok := p.(plugin.Initializer)
		if !ok {
			continue
		}
		if err := init.Initialize(ctx); err != nil {
			return fmt.Errorf("engine: initializing plugin %q: %w", p.Name(), err)
		}
	}
	return nil
}

// ReloadPolicy builds a new bundle from a synchronous source and
// atomically swaps it into the evaluator. Plugin state is untouched.
func (e *Engine) ReloadPolicy(ctx context.Context, src bundle.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.loader.Load(ctx, src)
	if err != nil {
		return fmt.Errorf("engine: reloading policy bundle: %w", err)
	}
	e.evaluator.UpdateBundle(b)
	return nil
}

// ReloadPolicyAsync re-invokes the configured async loader and swaps the
// resulting bundle into the evaluator.
func (e *Engine) ReloadPolicyAsync(ctx context.Context) error {
	if e.source.AsyncLoader == nil {
		return fmt.Errorf("engine: reload_policy_async called without an async policy source")
	}
	return e.ReloadPolicy(ctx, bundle.Source{Loader: e.source.AsyncLoader})
}

// Shutdown iterates plugins in declaration order and awaits each
// optional Destroy.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for _, p := range e.plugins {
		d, ok := p.(plugin.Destroyer)
		if !ok {
			continue
		}
		if err := d.Destroy(ctx); err != nil {
			log.Error().Err(err).Str("plugin", p.Name()).Msg("agentguard: plugin destroy failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("engine: destroying plugin %q: %w", p.Name(), err)
			}
		}
	}
	return firstErr
}

func (e *Engine) reportError(err error, source string) {
	log.Error().Err(err).Str("source", source).Msg("agentguard: pipeline error")
	if e.callbacks.OnError != nil {
		e.callbacks.OnError(err, source)
	}
}

func (e *Engine) recordEvent(ev schema.Event) {
	accepted, evicted := e.audit.append(ev)
	if !accepted {
		log.Warn().Str("event_id", ev.EventID).Msg("agentguard: duplicate event id dropped")
		return
	}
	for i := 0; i < evicted; i++ {
		if e.telemetry != nil {
			e.telemetry.ObserveAuditEviction()
		}
	}
	if e.telemetry != nil {
		e.telemetry.ObserveDecision(ev.Outcome)
	}
	if e.callbacks.OnAuditEvent != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("agentguard: on_audit_event callback panicked")
				}
			}()
			e.callbacks.OnAuditEvent(ev)
		}()
	}
}

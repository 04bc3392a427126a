// Package formwizard is the top-level entry point for the form wizard engine.
// It wires the configuration loader, validation orchestrator, relationship
// editing, submission normalization, and progress persistence behind a single
// Engine whose sessions walk a form configuration step by step.
package formwizard

import (
	"context"
	"log/slog"

	"github.com/PandiO/knk-form-engine/pkg/entity"
	"github.com/PandiO/knk-form-engine/pkg/formconfig"
	"github.com/PandiO/knk-form-engine/pkg/session"
	"github.com/PandiO/knk-form-engine/pkg/validation"
)

// FormConfiguration aliases the configuration model exported via the root
// package for convenience.
type FormConfiguration = formconfig.FormConfiguration

// FormStep aliases one wizard step of a configuration.
type FormStep = formconfig.FormStep

// FormField aliases one field of a step.
type FormField = formconfig.FormField

// Session aliases the stateful per-user wizard controller.
type Session = session.Controller

// StartOptions aliases the session start parameters.
type StartOptions = session.StartOptions

// Option configures an Engine.
type Option func(*Engine)

// WithConfigProvider sets the configuration resolver used by NewSession and by
// nested child sessions resolving a sub-configuration id.
func WithConfigProvider(provider formconfig.Provider) Option {
	return func(e *Engine) { e.configs = provider }
}

// WithStore sets the durable progress store shared by every session.
func WithStore(store session.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithMetadataProvider sets the entity metadata resolver used for submission
// normalization and join foreign-key mapping.
func WithMetadataProvider(provider entity.MetadataProvider) Option {
	return func(e *Engine) { e.metadata = provider }
}

// WithDataSource sets the entity read/write collaborator.
func WithDataSource(source entity.DataSource) Option {
	return func(e *Engine) { e.data = source }
}

// WithBrowser sets the related-entity browser for many-to-many steps.
func WithBrowser(browser entity.Browser) Option {
	return func(e *Engine) { e.browser = browser }
}

// WithValidationService sets the external validation executor together with
// orchestrator options such as the debounce window.
func WithValidationService(service validation.Service, options ...validation.Option) Option {
	return func(e *Engine) {
		e.validationSvc = service
		e.validationOpt = options
	}
}

// WithLogger sets the logger handed to every session.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine holds the collaborators shared by all wizard sessions. It is safe for
// concurrent use; each session owns its own mutable state.
type Engine struct {
	configs       formconfig.Provider
	store         session.Store
	metadata      entity.MetadataProvider
	data          entity.DataSource
	browser       entity.Browser
	validationSvc validation.Service
	validationOpt []validation.Option
	logger        *slog.Logger
}

// New constructs an Engine. Sessions built from an Engine with no store share
// one in-memory store, so drafts saved by one session resume in another.
func New(options ...Option) *Engine {
	e := &Engine{}
	for _, opt := range options {
		if opt != nil {
			opt(e)
		}
	}
	if e.store == nil {
		e.store = session.NewMemoryStore()
	}
	return e
}

func (e *Engine) sessionOptions() []session.Option {
	opts := []session.Option{
		session.WithStore(e.store),
		session.WithConfigProvider(e.configs),
	}
	if e.metadata != nil {
		opts = append(opts, session.WithMetadataProvider(e.metadata))
	}
	if e.data != nil {
		opts = append(opts, session.WithDataSource(e.data))
	}
	if e.browser != nil {
		opts = append(opts, session.WithBrowser(e.browser))
	}
	if e.validationSvc != nil {
		opts = append(opts, session.WithValidationService(e.validationSvc, e.validationOpt...))
	}
	if e.logger != nil {
		opts = append(opts, session.WithLogger(e.logger))
	}
	return opts
}

// SessionOptions exposes the engine's collaborator wiring as session options
// for callers that construct controllers themselves, such as HTTP handlers.
func (e *Engine) SessionOptions() []session.Option {
	return e.sessionOptions()
}

// NewSession resolves the configuration and starts a fresh session over it.
func (e *Engine) NewSession(ctx context.Context, ref formconfig.Ref) (*Session, error) {
	cfg, err := e.configs.Configuration(ctx, ref)
	if err != nil {
		return nil, err
	}
	s := session.New(cfg, e.sessionOptions()...)
	if err := s.Start(ctx, session.StartOptions{}); err != nil {
		return nil, err
	}
	return s, nil
}

// EditSession starts a session pre-populated from an existing entity; the
// final submission updates that entity instead of creating a new one.
func (e *Engine) EditSession(ctx context.Context, ref formconfig.Ref, entityID any) (*Session, error) {
	cfg, err := e.configs.Configuration(ctx, ref)
	if err != nil {
		return nil, err
	}
	s := session.New(cfg, e.sessionOptions()...)
	if err := s.Start(ctx, session.StartOptions{EntityID: entityID}); err != nil {
		return nil, err
	}
	return s, nil
}

// Resume rehydrates a persisted session from its progress id.
func (e *Engine) Resume(ctx context.Context, ref formconfig.Ref, progressID string) (*Session, error) {
	cfg, err := e.configs.Configuration(ctx, ref)
	if err != nil {
		return nil, err
	}
	s := session.New(cfg, e.sessionOptions()...)
	if err := s.Start(ctx, session.StartOptions{ResumeProgressID: progressID}); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadConfiguration parses a JSON or YAML form configuration document.
func LoadConfiguration(raw []byte) (FormConfiguration, error) {
	return formconfig.Load(raw)
}

// LoadConfigurationFile reads and parses a form configuration file.
func LoadConfigurationFile(path string) (FormConfiguration, error) {
	return formconfig.LoadFile(path)
}

// Diagnose reports configuration problems that would surface at run time,
// such as unparseable condition or field-order JSON.
func Diagnose(cfg FormConfiguration) []formconfig.Issue {
	return formconfig.Diagnose(cfg)
}

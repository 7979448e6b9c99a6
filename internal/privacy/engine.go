package privacy

import (
	"fmt"
	"regexp"

	"github.com/raaihank/sentinel-mask/internal/config"
	"github.com/raaihank/sentinel-mask/internal/logger"
	"go.uber.org/zap"
)

// Engine is a configured, immutable masking engine. It is safe for
// concurrent use.
type Engine struct {
	classes []*EntityClass
	tokens  *regexp.Regexp
	logger  *logger.Logger
	config  config.PrivacyConfig
}

// New creates a masking engine from configuration
func New(cfg config.PrivacyConfig, log *logger.Logger) (*Engine, error) {
	classes, err := buildClasses(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure entity classes: %w", err)
	}

	engine, err := NewWithClasses(classes, cfg, log)
	if err != nil {
		return nil, err
	}

	engine.logger.Info("Masking engine initialized",
		zap.Bool("enabled", cfg.Enabled),
		zap.Strings("classes", engine.ClassNames()),
	)

	return engine, nil
}

// NewWithClasses creates an engine over an explicit ordered class list.
func NewWithClasses(classes []*EntityClass, cfg config.PrivacyConfig, log *logger.Logger) (*Engine, error) {
	if err := ValidateClasses(classes); err != nil {
		return nil, err
	}
	if err := ValidateScope(cfg.DefaultScope); err != nil {
		return nil, fmt.Errorf("invalid default scope: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	owned := make([]*EntityClass, len(classes))
	copy(owned, classes)

	return &Engine{
		classes: owned,
		tokens:  tokenPattern(owned),
		logger:  log,
		config:  cfg,
	}, nil
}

// buildClasses resolves the configured detector names, in the order given,
// followed by custom classes.
func buildClasses(cfg config.PrivacyConfig) ([]*EntityClass, error) {
	builtin := make(map[string]*EntityClass)
	defaults := DefaultClasses()
	for _, c := range defaults {
		builtin[c.name] = c
	}

	var classes []*EntityClass
	added := make(map[string]bool)
	add := func(c *EntityClass) {
		if added[c.name] {
			return
		}
		added[c.name] = true
		classes = append(classes, c)
	}

	for _, name := range cfg.Detectors {
		if name == "all" {
			for _, c := range defaults {
				add(c)
			}
			continue
		}

		c, ok := builtin[name]
		if !ok {
			return nil, fmt.Errorf("unknown detector: %s", name)
		}
		add(c)
	}

	for _, custom := range cfg.CustomClasses {
		c, err := NewEntityClass(custom.Name, custom.Pattern, custom.PlaceholderTag)
		if err != nil {
			return nil, err
		}
		if added[c.name] {
			return nil, fmt.Errorf("custom class %s shadows a built-in class", c.name)
		}
		add(c)
	}

	return classes, nil
}

// MaskText masks text with the configured classes. An empty scope falls back
// to the configured default scope.
func (e *Engine) MaskText(text, scope string) Result {
	if scope == "" {
		scope = e.config.DefaultScope
	}

	if !e.config.Enabled {
		mm := make(MaskMap, len(e.classes))
		for _, c := range e.classes {
			mm[c.name] = map[string]string{}
		}
		return Result{MaskedText: text, MaskMap: mm, Findings: []Finding{}}
	}

	masked, mm, _, replaced := mask(text, e.classes, scope)

	findings := make([]Finding, 0)
	for _, c := range e.classes {
		values := mm[c.name]
		if len(values) == 0 {
			continue
		}
		findings = append(findings, Finding{
			EntityType:  c.name,
			Tokens:      len(values),
			Occurrences: replaced[c.name],
		})

		e.logger.Debug("PII detected and masked",
			zap.String("entity_type", c.name),
			zap.Int("tokens", len(values)),
			zap.Int("occurrences", replaced[c.name]),
			zap.String("scope", scope),
		)
	}

	return Result{
		MaskedText: masked,
		MaskMap:    mm,
		Findings:   findings,
	}
}

// UnmaskText restores tokens from the given maps and reports tokens of the
// configured classes that could not be resolved.
func (e *Engine) UnmaskText(text string, maps ...MaskMap) UnmaskResult {
	restored := UnmaskAll(text, maps...)
	unresolved := findTokens(e.tokens, restored)

	if len(unresolved) > 0 {
		e.logger.Warn("Unresolved placeholder tokens after unmasking",
			zap.Int("count", len(unresolved)),
			zap.Strings("tokens", unresolved),
		)
	}

	if unresolved == nil {
		unresolved = []string{}
	}
	return UnmaskResult{Text: restored, Unresolved: unresolved}
}

// Classes returns the ordered class list.
func (e *Engine) Classes() []*EntityClass {
	out := make([]*EntityClass, len(e.classes))
	copy(out, e.classes)
	return out
}

// ClassNames returns the ordered class names.
func (e *Engine) ClassNames() []string {
	names := make([]string, 0, len(e.classes))
	for _, c := range e.classes {
		names = append(names, c.name)
	}
	return names
}

// Enabled reports whether masking is switched on.
func (e *Engine) Enabled() bool { return e.config.Enabled }

// DefaultScope returns the scope used when a caller passes none.
func (e *Engine) DefaultScope() string { return e.config.DefaultScope }

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"logitrack/internal/models"
	"logitrack/internal/storage"

	"github.com/sirupsen/logrus"
)

// Clock returns the current time; injected so tests control time.
type Clock func() time.Time

// RuleRepository is the rule persistence contract used by the engine and handlers.
type RuleRepository interface {
	List(ctx context.Context) ([]models.AutomationRule, error)
	Save(ctx context.Context, rules []models.AutomationRule) error
	Delete(ctx context.Context, id string) (bool, error)
	CreateFromTemplate(ctx context.Context, templateID string) (*models.AutomationRule, error)
	RecordRuns(ctx context.Context, runs map[string]int, at time.Time) error
}

// RuleStore keeps the full rule list under a single key. Every mutation reads the whole
// collection, changes it in memory and writes it back while holding mu.
type RuleStore struct {
	kv        storage.KeyValueStore
	templates *TemplateLibrary
	logger    *logrus.Logger
	now       Clock
	seed      bool
	mu        sync.Mutex
}

// NewRuleStore creates a store. seed controls whether the built-in rule set is written on first use.
func NewRuleStore(kv storage.KeyValueStore, templates *TemplateLibrary, logger *logrus.Logger, seed bool) *RuleStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleStore{kv: kv, templates: templates, logger: logger, now: time.Now, seed: seed}
}

// WithClock overrides the time source.
func (s *RuleStore) WithClock(c Clock) *RuleStore {
	s.now = c
	return s
}

// List returns all rules, seeding the built-in set when the store is empty.
func (s *RuleStore) List(ctx context.Context) ([]models.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(ctx)
}

func (s *RuleStore) listLocked(ctx context.Context) ([]models.AutomationRule, error) {
	rules, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if len(rules) > 0 || !s.seed || s.templates == nil {
		return rules, nil
	}
	rules = s.templates.BuiltinRules(s.now())
	if err := s.write(ctx, rules); err != nil {
		// 持久化失败时仍返回内存中的默认规则
		s.logger.Warnf("automation: seed built-in rules failed: %v", err)
	} else {
		s.logger.Infof("automation: seeded %d built-in rules", len(rules))
	}
	return rules, nil
}

// Get returns a single rule.
func (s *RuleStore) Get(ctx context.Context, id string) (*models.AutomationRule, error) {
	rules, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		if rules[i].ID == id {
			r := rules[i]
			return &r, nil
		}
	}
	return nil, ErrRuleNotFound
}

// Save validates and replaces the full rule list. Execution counters never move backwards:
// a stale ejecutados/ultimaEjecucion in the incoming list is raised to the stored value.
func (s *RuleStore) Save(ctx context.Context, rules []models.AutomationRule) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.load(ctx)
	if err != nil {
		return err
	}
	stored := make(map[string]models.AutomationRule, len(current))
	for _, r := range current {
		stored[r.ID] = r
	}
	next := make([]models.AutomationRule, len(rules))
	for i, r := range rules {
		r = r.Clone()
		if prev, ok := stored[r.ID]; ok {
			if prev.Ejecutados > r.Ejecutados {
				r.Ejecutados = prev.Ejecutados
			}
			if prev.UltimaEjecucion != nil && (r.UltimaEjecucion == nil || prev.UltimaEjecucion.After(*r.UltimaEjecucion)) {
				t := *prev.UltimaEjecucion
				r.UltimaEjecucion = &t
			}
			if r.CreadoEn.IsZero() {
				r.CreadoEn = prev.CreadoEn
			}
		}
		if r.CreadoEn.IsZero() {
			r.CreadoEn = s.now()
		}
		next[i] = r
	}
	return s.write(ctx, next)
}

// Delete removes a custom rule. Built-in ids return false and leave the store untouched.
func (s *RuleStore) Delete(ctx context.Context, id string) (bool, error) {
	if !strings.HasPrefix(id, models.CustomRulePrefix) {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rules, err := s.listLocked(ctx)
	if err != nil {
		return false, err
	}
	kept := make([]models.AutomationRule, 0, len(rules))
	for _, r := range rules {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(rules) {
		return false, nil
	}
	if err := s.write(ctx, kept); err != nil {
		return false, err
	}
	return true, nil
}

// Toggle activates or deactivates a rule.
func (s *RuleStore) Toggle(ctx context.Context, id string, activo bool) (*models.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules, err := s.listLocked(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		if rules[i].ID != id {
			continue
		}
		rules[i].Activo = activo
		if err := s.write(ctx, rules); err != nil {
			return nil, err
		}
		r := rules[i]
		return &r, nil
	}
	return nil, ErrRuleNotFound
}

// CreateFromTemplate instantiates a template as a new active custom rule and persists it.
func (s *RuleStore) CreateFromTemplate(ctx context.Context, templateID string) (*models.AutomationRule, error) {
	if s.templates == nil {
		return nil, ErrTemplateNotFound
	}
	tpl, ok := s.templates.RuleTemplate(templateID)
	if !ok {
		return nil, ErrTemplateNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rules, err := s.listLocked(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rule := models.AutomationRule{
		ID:          uniqueCustomID(rules, now),
		Nombre:      tpl.Nombre,
		Descripcion: tpl.Descripcion,
		Activo:      true,
		Prioridad:   tpl.Prioridad,
		Trigger:     tpl.Trigger,
		Acciones:    tpl.Acciones,
		Ejecutados:  0,
		CreadoEn:    now,
	}
	if err := validateRule(rule); err != nil {
		return nil, validationError("createFromTemplate", err)
	}

	next := append(append([]models.AutomationRule(nil), rules...), rule)
	if err := s.write(ctx, next); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"rule_id": rule.ID, "template_id": templateID}).Info("automation: rule created from template")
	return &rule, nil
}

// RecordRuns bumps ejecutados/ultimaEjecucion for the given rule ids on the stored list.
func (s *RuleStore) RecordRuns(ctx context.Context, runs map[string]int, at time.Time) error {
	if len(runs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rules, err := s.load(ctx)
	if err != nil {
		return err
	}
	for i := range rules {
		n, ok := runs[rules[i].ID]
		if !ok || n <= 0 {
			continue
		}
		rules[i].Ejecutados += n
		t := at
		rules[i].UltimaEjecucion = &t
	}
	return s.write(ctx, rules)
}

func uniqueCustomID(rules []models.AutomationRule, now time.Time) string {
	taken := make(map[string]bool, len(rules))
	for _, r := range rules {
		taken[r.ID] = true
	}
	ms := now.UnixMilli()
	for {
		id := fmt.Sprintf("%s%d", models.CustomRulePrefix, ms)
		if !taken[id] {
			return id
		}
		ms++
	}
}

func (s *RuleStore) load(ctx context.Context) ([]models.AutomationRule, error) {
	data, err := s.kv.Get(ctx, storage.KeyRules)
	if err != nil {
		return nil, persistenceError("load rules", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var rules []models.AutomationRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, persistenceError("decode rules", err)
	}
	return rules, nil
}

func (s *RuleStore) write(ctx context.Context, rules []models.AutomationRule) error {
	if rules == nil {
		rules = []models.AutomationRule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return persistenceError("encode rules", err)
	}
	if err := s.kv.Set(ctx, storage.KeyRules, data); err != nil {
		return persistenceError("save rules", err)
	}
	return nil
}

// ValidateRules checks every rule and id uniqueness.
func ValidateRules(rules []models.AutomationRule) error {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := validateRule(r); err != nil {
			return validationError("save", fmt.Errorf("rule %q: %w", r.ID, err))
		}
		if seen[r.ID] {
			return validationError("save", fmt.Errorf("duplicate rule id %q", r.ID))
		}
		seen[r.ID] = true
	}
	return nil
}

func validateRule(r models.AutomationRule) error {
	if r.ID == "" {
		return errors.New("id required")
	}
	if strings.TrimSpace(r.Nombre) == "" {
		return errors.New("nombre required")
	}
	if r.Ejecutados < 0 {
		return errors.New("ejecutados must not be negative")
	}
	if r.CooldownHoras < 0 {
		return errors.New("cooldownHoras must not be negative")
	}
	return validateShape(r.Trigger, r.Acciones)
}

func validateShape(trigger models.Trigger, actions []models.Action) error {
	if trigger.Tipo == "" {
		return errors.New("trigger.tipo required")
	}
	if err := trigger.Validate(); err != nil {
		return err
	}
	if len(actions) == 0 {
		return errors.New("at least one action required")
	}
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("acciones[%d]: %w", i, err)
		}
	}
	return nil
}

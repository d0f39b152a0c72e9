package services

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"logitrack/internal/models"
	"logitrack/pkg/utils"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/templates.yaml
var defaultCatalog []byte

// catalogFile mirrors catalog/templates.yaml.
type catalogFile struct {
	MessageTemplates []models.MessageTemplate `json:"message_templates"`
	RuleTemplates    []models.RuleTemplate    `json:"rule_templates"`
	BuiltinRules     []models.AutomationRule  `json:"builtin_rules"`
}

// TemplateLibrary holds the read-only rule and message catalogs.
type TemplateLibrary struct {
	messages     []models.MessageTemplate
	messageIndex map[string]int
	rules        []models.RuleTemplate
	ruleIndex    map[string]int
	builtins     []models.AutomationRule
}

// NewTemplateLibrary loads the embedded catalog.
func NewTemplateLibrary() (*TemplateLibrary, error) {
	return ParseTemplateLibrary(defaultCatalog)
}

// MustTemplateLibrary panics when the embedded catalog is malformed.
func MustTemplateLibrary() *TemplateLibrary {
	lib, err := NewTemplateLibrary()
	if err != nil {
		panic(err)
	}
	return lib
}

// ParseTemplateLibrary decodes a YAML catalog. The YAML tree is re-encoded as JSON so the
// trigger and action sum types go through their JSON decoders.
func ParseTemplateLibrary(data []byte) (*TemplateLibrary, error) {
	var tree interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	lib := &TemplateLibrary{
		messages:     file.MessageTemplates,
		messageIndex: make(map[string]int, len(file.MessageTemplates)),
		rules:        file.RuleTemplates,
		ruleIndex:    make(map[string]int, len(file.RuleTemplates)),
		builtins:     file.BuiltinRules,
	}
	for i, m := range lib.messages {
		if _, dup := lib.messageIndex[m.ID]; dup {
			return nil, fmt.Errorf("duplicate message template %s", m.ID)
		}
		lib.messageIndex[m.ID] = i
	}
	for i, rt := range lib.rules {
		if _, dup := lib.ruleIndex[rt.ID]; dup {
			return nil, fmt.Errorf("duplicate rule template %s", rt.ID)
		}
		if err := validateShape(rt.Trigger, rt.Acciones); err != nil {
			return nil, fmt.Errorf("rule template %s: %w", rt.ID, err)
		}
		lib.ruleIndex[rt.ID] = i
	}
	for _, r := range lib.builtins {
		if !strings.HasPrefix(r.ID, models.BuiltinRulePrefix) {
			return nil, fmt.Errorf("builtin rule %s must use prefix %s", r.ID, models.BuiltinRulePrefix)
		}
	}
	return lib, nil
}

// MessageTemplates returns a copy of the message catalog.
func (l *TemplateLibrary) MessageTemplates() []models.MessageTemplate {
	out := make([]models.MessageTemplate, len(l.messages))
	copy(out, l.messages)
	return out
}

// MessageTemplate looks up a message template by id.
func (l *TemplateLibrary) MessageTemplate(id string) (models.MessageTemplate, bool) {
	i, ok := l.messageIndex[id]
	if !ok {
		return models.MessageTemplate{}, false
	}
	return l.messages[i], true
}

// RuleTemplates returns deep copies of the rule templates.
func (l *TemplateLibrary) RuleTemplates() []models.RuleTemplate {
	out := make([]models.RuleTemplate, 0, len(l.rules))
	for _, rt := range l.rules {
		out = append(out, cloneRuleTemplate(rt))
	}
	return out
}

// RuleTemplate looks up a rule template by id and returns a deep copy.
func (l *TemplateLibrary) RuleTemplate(id string) (models.RuleTemplate, bool) {
	i, ok := l.ruleIndex[id]
	if !ok {
		return models.RuleTemplate{}, false
	}
	return cloneRuleTemplate(l.rules[i]), true
}

// BuiltinRules returns fresh copies of the default rule set stamped with createdAt.
func (l *TemplateLibrary) BuiltinRules(createdAt time.Time) []models.AutomationRule {
	out := make([]models.AutomationRule, 0, len(l.builtins))
	for i, r := range l.builtins {
		c := r.Clone()
		c.Ejecutados = 0
		c.UltimaEjecucion = nil
		// 保持目录顺序作为创建顺序
		c.CreadoEn = createdAt.Add(time.Duration(i) * time.Millisecond)
		out = append(out, c)
	}
	return out
}

func cloneRuleTemplate(rt models.RuleTemplate) models.RuleTemplate {
	out := rt
	out.Trigger = rt.Trigger.Clone()
	out.Acciones = make([]models.Action, len(rt.Acciones))
	for i, a := range rt.Acciones {
		out.Acciones[i] = a.Clone()
	}
	return out
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_]+)\}`)

// Placeholders lists the distinct {variable} names used in text, in order of appearance.
func Placeholders(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// ShipmentVariables builds the substitution table for a shipment.
func ShipmentVariables(s *models.Shipment, now time.Time) map[string]string {
	vars := map[string]string{
		"cliente":        s.Cliente,
		"guia":           firstNonEmpty(s.Guia, s.ID),
		"transportadora": s.Transportadora,
		"ciudad":         s.CiudadDestino,
		"estado":         s.Estado,
		"novedad":        s.Novedad,
		"telefono":       s.Telefono,
	}
	if days, err := s.DaysInTransit(now); err == nil {
		vars["dias"] = strconv.Itoa(days)
	}
	if s.IntentosFallidos != nil {
		vars["intentos"] = strconv.Itoa(*s.IntentosFallidos)
	}
	if s.UltimoMovimiento != nil {
		vars["ultimo_movimiento"] = utils.FormatTime(*s.UltimoMovimiento)
	}
	return vars
}

// RenderMessage substitutes {variable} placeholders. Unknown or empty variables stay verbatim.
func RenderMessage(text string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := vars[name]; ok && v != "" {
			return v
		}
		return m
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

package models

// MessageTemplate WhatsApp 消息模板
type MessageTemplate struct {
	ID        string   `json:"id" yaml:"id"`
	Nombre    string   `json:"nombre" yaml:"nombre"`
	Categoria string   `json:"categoria" yaml:"categoria"`
	Mensaje   string   `json:"mensaje" yaml:"mensaje"`
	Variables []string `json:"variables" yaml:"variables"`
}

// RuleTemplate 规则模板（触发器+动作骨架）
type RuleTemplate struct {
	ID          string   `json:"id"`
	Nombre      string   `json:"nombre"`
	Descripcion string   `json:"descripcion"`
	Categoria   string   `json:"categoria"`
	Prioridad   int      `json:"prioridad"`
	Trigger     Trigger  `json:"trigger"`
	Acciones    []Action `json:"acciones"`
}

package utils

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxMessageLength WhatsApp 单条消息上限
const MaxMessageLength = 4096

// PrefixedID returns prefix_<uuid>.
func PrefixedID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// 时间格式化
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// 验证消息内容
func ValidateMessage(content string) bool {
	if len(strings.TrimSpace(content)) == 0 || len(content) > MaxMessageLength {
		return false
	}
	return true
}

// CityKey folds accents, case and spacing so "Bogotá", "BOGOTA " and "bogota" group together.
func CityKey(city string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, city)
	if err != nil {
		folded = city
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// NormalizeCity returns a display form: trimmed, single spaced, title cased. Accents are kept.
// cases.Caser is stateful, so each call gets its own.
func NormalizeCity(city string) string {
	fields := strings.Fields(city)
	if len(fields) == 0 {
		return ""
	}
	return cases.Title(language.Spanish).String(strings.ToLower(strings.Join(fields, " ")))
}

// Package notice turns prefix-coded status codes into severity-tagged,
// locale-aware user notices.
//
// Message catalogs are supplied by the backend as JSON documents, one per
// status namespace (success/error/warning). Translation never fails the
// caller: a miss at any level degrades to a deterministic placeholder.
package notice

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// DefaultLocale is the fallback when a catalog entry has no translation for
// the requested locale.
const DefaultLocale = "en"

// Severity classifies a notice for presentation.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Classify derives the severity from a status code's prefix. Unrecognized
// prefixes are treated as errors.
func Classify(code string) Severity {
	switch {
	case strings.HasPrefix(code, "SUCCESS"):
		return SeveritySuccess
	case strings.HasPrefix(code, "ERR"):
		return SeverityError
	case strings.HasPrefix(code, "WARN"):
		return SeverityWarning
	default:
		return SeverityError
	}
}

// Entry is one translatable message: the variables its template references
// and a template per locale.
type Entry struct {
	Variables    []string          `json:"variables"`
	Translations map[string]string `json:"translations"`
}

// Catalog maps status codes of one namespace to their entries.
type Catalog map[string]Entry

// ParseCatalog decodes a catalog from its JSON document.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode message catalog: %w", err)
	}
	return c, nil
}

// Tables holds one catalog per status namespace.
type Tables struct {
	Success Catalog
	Error   Catalog
	Warning Catalog
}

// catalogFor selects the namespace catalog matching the code prefix. Codes
// with an unknown prefix are looked up in the error catalog, mirroring the
// fail-safe severity default.
func (t Tables) catalogFor(code string) Catalog {
	switch Classify(code) {
	case SeveritySuccess:
		return t.Success
	case SeverityWarning:
		return t.Warning
	default:
		return t.Error
	}
}

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// Translator renders status codes into notice text.
type Translator struct {
	tables Tables
	logger *zap.Logger
}

// NewTranslator builds a translator over the given tables.
func NewTranslator(tables Tables, logger *zap.Logger) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{tables: tables, logger: logger}
}

// Translate renders code for locale, interpolating {name} placeholders from
// variables. A referenced variable that is absent becomes the empty string
// and logs a data-quality warning.
func (t *Translator) Translate(code string, variables map[string]string, locale string) string {
	entry, ok := t.tables.catalogFor(code)[code]
	if !ok {
		return fmt.Sprintf("Unknown code: %s", code)
	}

	template, ok := entry.Translations[locale]
	if !ok {
		template, ok = entry.Translations[DefaultLocale]
	}
	if !ok {
		return fmt.Sprintf("Translation not found for code: %s and locale: %s", code, locale)
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := variables[name]
		if !ok {
			t.logger.Warn("message variable missing, substituting empty string",
				zap.String("code", code),
				zap.String("variable", name),
			)
			return ""
		}
		return value
	})
}

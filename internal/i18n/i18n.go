// Package i18n formats localized user-facing strings.
package i18n

import (
	"embed"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/cohe-chat/internal/shared"
)

// DefaultLocale is used when no locale is configured.
const DefaultLocale = "es"

// Locales lists the available catalogs.
var Locales = []string{"es", "en"}

//go:embed locales/*.yaml
var catalogs embed.FS

var pluralPattern = regexp.MustCompile(`\{(\w+),\s*plural,\s*one\s*\{([^}]+)\}\s*other\s*\{([^}]+)\}\}`)

// Translator looks up dotted keys such as "errors.network". Keys missing in
// the selected locale fall back to the default locale, then to the key.
type Translator struct {
	locale   string
	messages map[string]string
	fallback map[string]string
}

// New loads the catalog for locale.
func New(locale string) (*Translator, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	if !slices.Contains(Locales, locale) {
		return nil, fmt.Errorf("unsupported locale %q", locale)
	}
	messages, err := load(locale)
	if err != nil {
		return nil, err
	}
	t := &Translator{locale: locale, messages: messages}
	if locale != DefaultLocale {
		if t.fallback, err = load(DefaultLocale); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func load(locale string) (map[string]string, error) {
	data, err := catalogs.ReadFile("locales/" + locale + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("read %s catalog: %w", locale, err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse %s catalog: %w", locale, err)
	}
	flat := make(map[string]string)
	flatten("", tree, flat)
	return flat, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// Locale returns the selected locale.
func (t *Translator) Locale() string { return t.locale }

// Format returns the message for key with {name} placeholders replaced from
// params and a "{count, plural, one {...} other {...}}" block resolved.
func (t *Translator) Format(key string, params map[string]any) string {
	msg, ok := t.messages[key]
	if !ok {
		if msg, ok = t.fallback[key]; !ok {
			return key
		}
	}

	for name, v := range params {
		msg = strings.ReplaceAll(msg, "{"+name+"}", fmt.Sprint(v))
	}
	if m := pluralPattern.FindStringSubmatch(msg); m != nil {
		form := m[3]
		if fmt.Sprint(params[m[1]]) == "1" {
			form = m[2]
		}
		msg = strings.Replace(msg, m[0], form, 1)
	}
	return msg
}

// Error returns the user-facing description of err.
func (t *Translator) Error(err error) string {
	var (
		validation *shared.ValidationError
		serverErr  *shared.ServerError
		netErr     *shared.NetworkError
		streamErr  *shared.StreamError
		persistErr *shared.PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		if validation.Reason == shared.ReasonTooLong {
			return t.Format("errors.tooLong", map[string]any{"max": validation.Max})
		}
		return t.Format("errors.empty", nil)
	case errors.Is(err, shared.ErrBusy):
		return t.Format("errors.busy", nil)
	case errors.As(err, &serverErr):
		switch serverErr.Status {
		case 429:
			return t.Format("errors.rateLimited", map[string]any{"seconds": int(serverErr.RetryAfter.Seconds())})
		case 401:
			return t.Format("errors.unauthorized", nil)
		}
		return t.Format("errors.server", nil) + " (" + fmt.Sprint(serverErr.Status) + ")"
	case errors.As(err, &netErr):
		return t.Format("errors.network", nil)
	case errors.As(err, &streamErr):
		return t.Format("errors.stream", nil)
	case errors.As(err, &persistErr):
		return t.Format("errors.persistence", nil)
	}
	return err.Error()
}

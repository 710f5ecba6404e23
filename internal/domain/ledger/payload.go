package ledger

import (
	"bytes"
	"embed"
	"encoding/json"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ehr/clinicledger/internal/platform/apperr"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// PayloadValidator checks event payloads against the JSON Schema registered
// for their event type. Types without a schema only need a JSON object.
type PayloadValidator struct {
	schemas map[string]*gojsonschema.Schema
}

func NewPayloadValidator() (*PayloadValidator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, errors.Wrap(err, "read embedded schemas")
	}

	v := &PayloadValidator{schemas: make(map[string]*gojsonschema.Schema, len(entries))}
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read schema %s", entry.Name())
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "compile schema %s", entry.Name())
		}
		v.schemas[strings.TrimSuffix(entry.Name(), ".json")] = schema
	}
	return v, nil
}

// KnownTypes lists the event types that carry a schema.
func (v *PayloadValidator) KnownTypes() []string {
	out := make([]string, 0, len(v.schemas))
	for t := range v.schemas {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func ValidateEventType(eventType string) error {
	if eventType == "" {
		return apperr.Validation("event_type is required")
	}
	if !eventTypePattern.MatchString(eventType) {
		return apperr.Validationf("event_type %q must be lower snake case", eventType)
	}
	return nil
}

// rejectNUL refuses payloads with a U+0000 anywhere in a key or string value.
// jsonb cannot store it, so the insert would fail on every retry.
func rejectNUL(payload []byte) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return apperr.Validation("payload is not valid JSON")
	}
	if containsNUL(doc) {
		return apperr.Validation("payload must not contain NUL characters")
	}
	return nil
}

func containsNUL(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.ContainsRune(t, 0)
	case map[string]any:
		for k, e := range t {
			if strings.ContainsRune(k, 0) || containsNUL(e) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if containsNUL(e) {
				return true
			}
		}
	}
	return false
}

// Validate returns a ValidationError when payload is not a JSON object or
// breaks the schema of eventType.
func (v *PayloadValidator) Validate(eventType string, payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return apperr.Validation("payload is required")
	}
	if !json.Valid(trimmed) {
		return apperr.Validation("payload is not valid JSON")
	}
	if trimmed[0] != '{' {
		return apperr.Validation("payload must be a JSON object")
	}
	if !utf8.Valid(trimmed) {
		return apperr.Validation("payload must be valid UTF-8")
	}
	if err := rejectNUL(trimmed); err != nil {
		return err
	}

	schema, ok := v.schemas[eventType]
	if !ok {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(trimmed))
	if err != nil {
		return apperr.Validationf("payload could not be validated: %s", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return apperr.Validationf("payload does not match the %s schema: %s", eventType, strings.Join(msgs, "; "))
	}
	return nil
}

package ledger

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/clinicledger/internal/platform/apperr"
)

func TestPayloadValidator_KnownTypes(t *testing.T) {
	v, err := NewPayloadValidator()
	require.NoError(t, err)
	assert.Equal(t, []string{"note", "observation", "order", "transcript"}, v.KnownTypes())
}

func TestPayloadValidator_Validate(t *testing.T) {
	v, err := NewPayloadValidator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		eventType string
		payload   string
		ok        bool
	}{
		{"note", "note", `{"text":"stable"}`, true},
		{"note without text", "note", `{"title":"x"}`, false},
		{"observation numeric", "observation", `{"code":"8480-6","value":120,"unit":"mmHg"}`, true},
		{"observation object value", "observation", `{"code":"8480-6","value":{}}`, false},
		{"order priority", "order", `{"description":"x-ray","priority":"stat"}`, true},
		{"transcript bad job id", "transcript", `{"text":"t","job_id":"nope"}`, false},
		{"transcript", "transcript", `{"text":"t","job_id":"0190f0a4-3c3b-7a8e-9d6f-1b2c3d4e5f60"}`, true},
		{"free-form type", "allergy", `{"substance":"penicillin"}`, true},
		{"array", "allergy", `["penicillin"]`, false},
		{"scalar", "allergy", `42`, false},
		{"whitespace", "allergy", "   ", false},
		{"broken", "allergy", `{"a":`, false},
		{"escaped NUL in value", "note", `{"text":"a\u0000b"}`, false},
		{"escaped NUL in key", "allergy", `{"sub\u0000stance":"penicillin"}`, false},
		{"escaped NUL in nested array", "allergy", `{"reactions":[{"note":"\u0000"}]}`, false},
		{"invalid UTF-8", "note", "{\"text\":\"a\xffb\"}", false},
		{"escaped non-NUL control", "note", `{"text":"a\u0001b"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.eventType, json.RawMessage(tt.payload))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
		})
	}
}

func TestValidateEventType(t *testing.T) {
	for _, ok := range []string{"note", "lab_result", "v2_vitals"} {
		assert.NoError(t, ValidateEventType(ok), ok)
	}
	for _, bad := range []string{"", "Note", "2fa", "lab-result", "a b"} {
		assert.Error(t, ValidateEventType(bad), bad)
	}
}

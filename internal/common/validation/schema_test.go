package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"type": "object",
	"required": ["_id"],
	"properties": {
		"_id": {"type": "string", "minLength": 1},
		"count": {"type": "integer"}
	}
}`

func TestSchema_ValidateBytes(t *testing.T) {
	schema := MustCompile("test", testSchema)
	assert.Equal(t, "test", schema.Name())

	tests := []struct {
		name      string
		doc       string
		wantValid bool
		field     string
	}{
		{"valid", `{"_id": "B1", "count": 2}`, true, ""},
		{"missing id", `{"count": 2}`, false, "(root)"},
		{"wrong type", `{"_id": "B1", "count": "two"}`, false, "count"},
		{"malformed json", `{"_id": `, false, "(root)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := schema.ValidateBytes([]byte(tt.doc))
			assert.Equal(t, tt.wantValid, result.Valid)
			if tt.wantValid {
				assert.NoError(t, result.Err())
				return
			}
			assert.Error(t, result.Err())
			assert.True(t, result.HasErrors(tt.field), "errors: %v", result.GetErrorMessages())
		})
	}
}

func TestSchema_ValidateInput(t *testing.T) {
	schema := MustCompile("test", testSchema)
	result := schema.ValidateInput(map[string]interface{}{"_id": ""})
	require.False(t, result.Valid)
	assert.Len(t, result.GetErrorsForField("_id"), 1)
}

func TestCompile_InvalidSchema(t *testing.T) {
	_, err := Compile("broken", `{"type": 12}`)
	assert.Error(t, err)
	assert.Panics(t, func() { MustCompile("broken", `{"type": 12}`) })
}

func TestValidateEntityID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"65f1c2ab9e", false},
		{"prod_42-a", false},
		{"", true},
		{"../admin", true},
		{"a b", true},
		{strings.Repeat("a", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateEntityID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

package bridge

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
)

func TestValidateArguments(t *testing.T) {
	schema := mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"provider": map[string]interface{}{"type": "string"},
			"limit":    map[string]interface{}{"type": "number"},
			"offset":   map[string]interface{}{"type": "integer"},
			"detailed": map[string]interface{}{"type": "boolean"},
			"ids":      map[string]interface{}{"type": "array"},
			"filters":  map[string]interface{}{"type": "object"},
		},
		Required: []string{"provider"},
	}

	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr string
	}{
		{
			name: "valid full set",
			args: map[string]interface{}{
				"provider": "strava",
				"limit":    float64(10),
				"offset":   float64(5),
				"detailed": true,
				"ids":      []interface{}{"a", "b"},
				"filters":  map[string]interface{}{"sport": "run"},
			},
		},
		{
			name:    "missing required",
			args:    map[string]interface{}{"limit": float64(10)},
			wantErr: `missing required argument "provider"`,
		},
		{
			name:    "wrong string type",
			args:    map[string]interface{}{"provider": 42},
			wantErr: `argument "provider" must be of type string`,
		},
		{
			name:    "wrong number type",
			args:    map[string]interface{}{"provider": "strava", "limit": "ten"},
			wantErr: `argument "limit" must be of type number`,
		},
		{
			name:    "fractional integer",
			args:    map[string]interface{}{"provider": "strava", "offset": 1.5},
			wantErr: `argument "offset" must be of type integer`,
		},
		{
			name: "whole float accepted as integer",
			args: map[string]interface{}{"provider": "strava", "offset": float64(3)},
		},
		{
			name: "unknown keys pass through",
			args: map[string]interface{}{"provider": "strava", "extra": struct{}{}},
		},
		{
			name: "nil value passes",
			args: map[string]interface{}{"provider": "strava", "limit": nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateArguments(schema, tt.args)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidateArgumentsEmptySchema(t *testing.T) {
	schema := mcp.ToolInputSchema{Type: "object"}
	assert.NoError(t, validateArguments(schema, map[string]interface{}{"anything": 1}))
	assert.NoError(t, validateArguments(schema, nil))
}

package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

func TestTransformer_Actions(t *testing.T) {
	tests := []struct {
		name   string
		action config.TransformationAction
		input  string
		want   string
	}{
		{"trim", config.TransformationAction{Type: "trim"}, "  Oil Well  ", "Oil Well"},
		{"uppercase", config.TransformationAction{Type: "uppercase"}, "active", "ACTIVE"},
		{"lowercase", config.TransformationAction{Type: "lowercase"}, "ACTIVE", "active"},
		{"prepend", config.TransformationAction{Type: "prepend_string", Value: "ND-"}, "1234", "ND-1234"},
		{"append", config.TransformationAction{Type: "append_string", Value: " ft"}, "120", "120 ft"},
		{"pad zeros", config.TransformationAction{Type: "pad_zeros_to_length", Value: "6"}, "1234", "001234"},
		{"pad zeros already long", config.TransformationAction{Type: "pad_zeros_to_length", Value: "2"}, "1234", "1234"},
		{"truncate runes", config.TransformationAction{Type: "truncate", Value: "3"}, "Müller", "Mül"},
		{"truncate short", config.TransformationAction{Type: "truncate", Value: "10"}, "abc", "abc"},
		{"replace", config.TransformationAction{Type: "replace", Find: "-", Value: "/"}, "a-b-c", "a/b/c"},
		{"replace empty find", config.TransformationAction{Type: "replace", Value: "x"}, "abc", "abc"},
		{"regex replace", config.TransformationAction{Type: "regex_replace", Find: `\s+`, Value: " "}, "Oil   Well", "Oil Well"},
		{"lookup hit", config.TransformationAction{Type: "lookup", LookupTable: map[string]string{"A": "Active"}}, "A", "Active"},
		{"lookup miss", config.TransformationAction{Type: "lookup", LookupTable: map[string]string{"A": "Active"}}, "P", "P"},
		{"default on blank", config.TransformationAction{Type: "default", Value: "UNKNOWN"}, " ", "UNKNOWN"},
		{"default keeps value", config.TransformationAction{Type: "default", Value: "UNKNOWN"}, "Hess", "Hess"},
	}

	schema := types.StringSchema("wells", []string{"Value"})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NewTransformer([]config.TransformationRule{
				{Field: "Value", Actions: []config.TransformationAction{tt.action}},
			}, schema)
			require.NoError(t, err)

			f := &types.Feature{Attributes: []string{tt.input}}
			tr.Apply(f)
			assert.Equal(t, tt.want, f.Attributes[0])
		})
	}
}

func TestTransformer_ChainsAndBinding(t *testing.T) {
	schema := types.StringSchema("wells", []string{"API", "Status"})
	tr, err := NewTransformer([]config.TransformationRule{
		{Field: "api", Actions: []config.TransformationAction{
			{Type: "trim"},
			{Type: "pad_zeros_to_length", Value: "5"},
			{Type: "prepend_string", Value: "33-"},
		}},
		{Field: "Operator", Actions: []config.TransformationAction{{Type: "uppercase"}}},
	}, schema)
	require.NoError(t, err)

	assert.True(t, tr.Active())
	assert.Equal(t, []string{"Operator"}, tr.Unbound())

	f := &types.Feature{Attributes: []string{" 42 ", "A"}}
	tr.Apply(f)
	assert.Equal(t, []string{"33-00042", "A"}, f.Attributes)
}

func TestTransformer_NoRules(t *testing.T) {
	tr, err := NewTransformer(nil, types.StringSchema("x", []string{"a"}))
	require.NoError(t, err)
	assert.False(t, tr.Active())

	f := &types.Feature{Attributes: []string{"a"}}
	tr.Apply(f)
	assert.Equal(t, []string{"a"}, f.Attributes)
}

func TestTransformer_InvalidActions(t *testing.T) {
	tests := []struct {
		name   string
		action config.TransformationAction
		errMsg string
	}{
		{"unknown type", config.TransformationAction{Type: "explode"}, "unknown transformation type: explode"},
		{"bad length", config.TransformationAction{Type: "pad_zeros_to_length", Value: "six"}, "non-negative length"},
		{"negative truncate", config.TransformationAction{Type: "truncate", Value: "-1"}, "non-negative length"},
		{"bad regex", config.TransformationAction{Type: "regex_replace", Find: "("}, "invalid regex pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTransformer([]config.TransformationRule{
				{Field: "Missing", Actions: []config.TransformationAction{tt.action}},
			}, types.StringSchema("x", []string{"a"}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Contains(t, err.Error(), "field Missing")
		})
	}
}

func TestPadLeft(t *testing.T) {
	assert.Equal(t, "0007", PadLeft("7", 4, '0'))
	assert.Equal(t, "12345", PadLeft("12345", 4, '0'))
	assert.Equal(t, "  é", PadLeft("é", 3, ' '))
}

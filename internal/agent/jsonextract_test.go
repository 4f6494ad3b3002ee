package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{
			name:    "bare object",
			content: `{"classification":"other","confidence":0.9}`,
			want:    `{"classification":"other","confidence":0.9}`,
		},
		{
			name:    "prose around object",
			content: "Based on the diff, my answer is:\n{\"classification\":\"security_bugfix\",\"confidence\":0.92}\nLet me know.",
			want:    `{"classification":"security_bugfix","confidence":0.92}`,
		},
		{
			name:    "code fence",
			content: "```json\n{\"classification\":\"refactor\",\"confidence\":0.8}\n```",
			want:    `{"classification":"refactor","confidence":0.8}`,
		},
		{
			name:    "nested object",
			content: `{"a":{"b":[1,2]},"c":"d"}`,
			want:    `{"a":{"b":[1,2]},"c":"d"}`,
		},
		{
			name:    "braces inside strings",
			content: `{"summary":"fixes {overflow} in parse()","confidence":1}`,
			want:    `{"summary":"fixes {overflow} in parse()","confidence":1}`,
		},
		{
			name:    "invalid braces then valid object",
			content: `the set {1, 2, 3} is unrelated; {"ok":true}`,
			want:    `{"ok":true}`,
		},
		{
			name:    "no object",
			content: "I could not reach a conclusion.",
			wantErr: true,
		},
		{
			name:    "unterminated",
			content: `{"classification":"other"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	got, err := ExtractJSONArray(`Results:\n[{"severity":"high"},{"severity":"low"}]`)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"severity":"high"},{"severity":"low"}]`, string(got))

	// A bare object is wrapped.
	got, err = ExtractJSONArray(`{"severity":"high"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"severity":"high"}]`, string(got))

	_, err = ExtractJSONArray("nothing structured")
	require.Error(t, err)
}

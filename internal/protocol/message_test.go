package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSelfReference(t *testing.T) {
	self := Identity{
		Name:      "code-mode",
		Version:   "1.0.0",
		Vendor:    "code-mode",
		Signature: "code-mode-toon/orchestrator",
	}

	cases := []struct {
		name   string
		remote Identity
		want   bool
	}{
		{
			name:   "vendor and signature match is authoritative",
			remote: Identity{Name: "renamed", Vendor: self.Vendor, Signature: self.Signature},
			want:   true,
		},
		{
			name:   "name plus vendor match",
			remote: Identity{Name: self.Name, Vendor: self.Vendor},
			want:   true,
		},
		{
			name:   "name plus signature match",
			remote: Identity{Name: self.Name, Signature: self.Signature},
			want:   true,
		},
		{
			name:   "name only with no declared tags",
			remote: Identity{Name: self.Name},
			want:   true,
		},
		{
			name:   "same name but foreign vendor and signature",
			remote: Identity{Name: self.Name, Vendor: "other", Signature: "other/sig"},
			want:   false,
		},
		{
			name:   "unrelated server",
			remote: Identity{Name: "filesystem", Vendor: "acme"},
			want:   false,
		},
		{
			name:   "empty identity",
			remote: Identity{},
			want:   false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, isSelfReference(tc.remote, self))
		})
	}
}

func TestResponseID(t *testing.T) {
	id, ok := responseID(map[string]any{"id": float64(7)})
	require.True(t, ok)
	require.Equal(t, int64(7), id)

	id, ok = responseID(map[string]any{"id": json.Number("12")})
	require.True(t, ok)
	require.Equal(t, int64(12), id)

	_, ok = responseID(map[string]any{"method": "notification"})
	require.False(t, ok)

	_, ok = responseID(map[string]any{"id": "string-id"})
	require.False(t, ok)
}

func TestIdentityFromResult(t *testing.T) {
	got := identityFromResult(map[string]any{
		"serverInfo": map[string]any{"name": "demo", "version": "2", "vendor": "acme"},
	})
	require.Equal(t, Identity{Name: "demo", Version: "2", Vendor: "acme"}, got)

	// Older counterparts echo a clientInfo block instead.
	got = identityFromResult(map[string]any{
		"clientInfo": map[string]any{"name": "legacy"},
	})
	require.Equal(t, Identity{Name: "legacy"}, got)

	require.Equal(t, Identity{}, identityFromResult(nil))
}

func TestToolDescriptorSchema(t *testing.T) {
	td := ToolDescriptor{
		Name:        "echo",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
	}

	schema, err := td.Schema()
	require.NoError(t, err)
	require.Equal(t, "object", schema.Type)
	require.Contains(t, schema.Properties, "text")

	none := ToolDescriptor{Name: "bare"}
	schema, err = none.Schema()
	require.NoError(t, err)
	require.Nil(t, schema)
}

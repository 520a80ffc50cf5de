package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistration_Matches(t *testing.T) {
	tests := []struct {
		name    string
		filters []string
		action  string
		want    bool
	}{
		{"wildcard matches anything", []string{"*"}, "order.created", true},
		{"wildcard matches empty action", []string{"*"}, "", true},
		{"exact match", []string{"order.created", "order.paid"}, "order.paid", true},
		{"other action", []string{"order.created", "order.paid"}, "order.shipped", false},
		{"case sensitive", []string{"order.created"}, "Order.Created", false},
		{"prefix is not a match", []string{"order"}, "order.created", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistration(RegistrationParams{UserID: "u1", CallbackURI: "https://example.com/hook", Filters: tt.filters})
			assert.Equal(t, tt.want, r.Matches(tt.action))
		})
	}
}

func TestNewRegistration_Defaults(t *testing.T) {
	r := NewRegistration(RegistrationParams{
		UserID:      "u1",
		CallbackURI: "  https://example.com/hook  ",
		Filters:     []string{"b", " a ", "b", ""},
	})

	assert.NotEmpty(t, r.ID())
	assert.Equal(t, "https://example.com/hook", r.CallbackURI())
	assert.Equal(t, []string{"a", "b"}, r.Filters())
	assert.NotNil(t, r.Headers())
	assert.NotNil(t, r.Properties())
	assert.False(t, r.CreatedAt().IsZero())
}

func TestNormalizeFilters_UnicodeComposition(t *testing.T) {
	// "é" precomposed vs "e" + combining acute accent
	got := NormalizeFilters([]string{"caf\u00e9.opened", "cafe\u0301.opened"})
	assert.Equal(t, []string{"caf\u00e9.opened"}, got)
}

func TestRegistration_CloneIsIndependent(t *testing.T) {
	r := NewRegistration(RegistrationParams{
		UserID:     "u1",
		Filters:    []string{"a"},
		Headers:    map[string]string{"X-Env": "prod"},
		Properties: map[string]any{"nested": map[string]any{"k": "v"}},
	})

	c := r.Clone()
	c.headers["X-Env"] = "dev"
	c.properties["nested"].(map[string]any)["k"] = "changed"
	c.filters[0] = "z"

	assert.Equal(t, "prod", r.Headers()["X-Env"])
	assert.Equal(t, "v", r.Properties()["nested"].(map[string]any)["k"])
	assert.Equal(t, []string{"a"}, r.Filters())
}

func TestRegistration_PauseResume(t *testing.T) {
	r := NewRegistration(RegistrationParams{UserID: "u1", Filters: []string{"*"}})
	r.Pause()
	assert.True(t, r.IsPaused())
	r.Resume()
	assert.False(t, r.IsPaused())
}

func TestRegistration_WithSecrets(t *testing.T) {
	r := NewRegistration(RegistrationParams{
		UserID:  "u1",
		Secret:  "s",
		Filters: []string{"*"},
		Headers: map[string]string{"authorization": "Bearer t", "X-Env": "prod"},
	})

	upper, err := r.WithSecrets(func(v string) (string, error) { return "enc(" + v + ")", nil })
	require.NoError(t, err)

	assert.Equal(t, "enc(s)", upper.Secret())
	assert.Equal(t, "enc(Bearer t)", upper.Headers()["authorization"])
	assert.Equal(t, "prod", upper.Headers()["X-Env"])
	assert.Equal(t, "s", r.Secret(), "original must be untouched")
}

func TestRecord_RoundTrip(t *testing.T) {
	r := NewRegistration(RegistrationParams{
		ID:          "r1",
		UserID:      "u1",
		CallbackURI: "https://example.com/hook",
		Secret:      "s",
		Filters:     []string{"order.created"},
		Properties:  map[string]any{"team": "billing"},
		Version:     "3",
	})

	back := FromRecord(r.ToRecord())
	assert.Equal(t, r.Params(), back.Params())
	assert.Equal(t, r.CreatedAt(), back.CreatedAt())
}

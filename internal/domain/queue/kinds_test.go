package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultKinds(t *testing.T) {
	kinds := DefaultKinds()

	for _, name := range []string{"site-log", "expense", "comment"} {
		_, ok := kinds.Resolve(name)
		require.True(t, ok, "kind %s must be registered", name)
	}

	_, ok := kinds.Resolve("drone-photo")
	require.False(t, ok)
}

func TestKindSpec_Endpoint(t *testing.T) {
	kinds := DefaultKinds()

	siteLog, _ := kinds.Resolve("site-log")
	require.Equal(t, "/api/sitelogs/project-1", siteLog.Endpoint("project-1"))
	require.Equal(t, "/api/sitelogs/a%2Fb", siteLog.Endpoint("a/b"))

	comment, _ := kinds.Resolve("comment")
	require.Equal(t, "/api/comments/", comment.Endpoint("project-1"))
}

func TestKindSpec_ValidatePayload(t *testing.T) {
	kinds := DefaultKinds()
	siteLog, _ := kinds.Resolve("site-log")

	cases := []struct {
		name    string
		payload string
		valid   bool
	}{
		{"minimal", `{"log_text":"poured foundation"}`, true},
		{"full", `{"log_text":"rebar inspection","weather_conditions":"overcast","workforce_count":12,"equipment_used":["crane"],"latitude":-1.2921,"longitude":36.8219}`, true},
		{"missing log_text", `{"weather_conditions":"sunny"}`, false},
		{"empty log_text", `{"log_text":""}`, false},
		{"wrong type", `{"log_text":42}`, false},
		{"negative workforce", `{"log_text":"x","workforce_count":-3}`, false},
		{"not json", `{"log_text":`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := siteLog.ValidatePayload(json.RawMessage(tc.payload))
			if tc.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, "site-log", verr.Kind)
		})
	}
}

func TestKindSpec_NoSchemaSkipsValidation(t *testing.T) {
	kinds := DefaultKinds()
	expense, _ := kinds.Resolve("expense")

	// No schema registered: any payload passes the local check.
	require.NoError(t, expense.ValidatePayload(json.RawMessage(`{"anything":"goes"}`)))
}

func TestRegistry_RegisterRejectsBadInput(t *testing.T) {
	r := NewKindRegistry()
	require.Error(t, r.Register("", "/api/x", ""))
	require.Error(t, r.Register("x", "", ""))
	require.Error(t, r.Register("x", "/api/x", `{"type":`))
}

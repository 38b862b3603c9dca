package ims

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEventID(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, id := range []string{"2024", "burn-2024", "train_day.2", "Event1"} {
		assert.NoError(t, ValidateEventID(id), "expected %q to be a valid event ID", id)
	}

	for _, id := range []string{"", "2024 burn", "2024/08", "café"} {
		assert.Error(t, ValidateEventID(id), "expected %q to be rejected", id)
	}
}

func TestValidateAccessExpression(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	valid := []string{"*", "person:alice", "position:Dispatcher", "person:K2"}
	for _, expression := range valid {
		assert.NoError(t, ValidateAccessExpression(expression), "expression %q", expression)
	}

	invalid := []string{"", "person:", "position:", "anyone", "group:ops", "**"}
	for _, expression := range invalid {
		assert.Error(t, ValidateAccessExpression(expression), "expression %q", expression)
	}
}

func TestAccessExpressionMatches(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	alice := &Ranger{
		Handle: "alice",
		Groups: []string{"Dispatcher", "Khaki"},
	}

	tests := []struct {
		expression string
		want       bool
	}{
		{"*", true},
		{"person:alice", true},
		{"person:bob", false},
		{"position:Khaki", true},
		{"position:Green Dot", false},
		{"person:Dispatcher", false},
		{"position:alice", false},
	}

	for _, tt := range tests {
		got := AccessExpressionMatches(tt.expression, alice)
		assert.Equal(t, tt.want, got, "expression %q against alice", tt.expression)
	}

	assert.False(t, AccessExpressionMatches("*", nil), "wildcard must not match a nil user")
}

func TestIncidentTypeValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	require.NoError(t, IncidentType{Name: "Medical"}.Validate())
	require.NoError(t, IncidentType{Name: IncidentTypeJunk, Hidden: true}.Validate())
	require.Error(t, IncidentType{}.Validate())
}

func TestAccessModeValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, mode := range []AccessMode{AccessModeRead, AccessModeWrite, AccessModeReport} {
		require.NoError(t, mode.Validate())
	}

	require.Error(t, AccessMode("owner").Validate())
}

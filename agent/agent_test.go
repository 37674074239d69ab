package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefinitionValidateRequiresName(t *testing.T) {
	d := &Definition{Model: "claude-sonnet-4-5"}
	require.Error(t, d.Validate())
}

func TestDefinitionValidateRequiresModel(t *testing.T) {
	d := &Definition{Name: "coder"}
	require.Error(t, d.Validate())
}

func TestDefinitionValidateOK(t *testing.T) {
	d := &Definition{Name: "coder", Model: "claude-sonnet-4-5"}
	require.NoError(t, d.Validate())
}

package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// A chunk re-embedded under a newer model of the same provider must get
// its own reference row, so uniqueness has to span the model too.
func TestBootstrapSchemaAllowsRefPerModel(t *testing.T) {
	schema, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	require.NoError(t, err)

	s := string(schema)
	require.Contains(t, s, "UNIQUE (chunk_id, provider, model)")
	require.NotContains(t, s, "UNIQUE (chunk_id, provider)\n")
}

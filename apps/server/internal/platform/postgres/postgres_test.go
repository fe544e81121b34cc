package postgres

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/watches":   "pgx5://u:p@db:5432/watches",
		"postgresql://u:p@db:5432/watches": "pgx5://u:p@db:5432/watches",
		"pgx5://db/watches":                "pgx5://db/watches",
	}
	for in, want := range cases {
		assert.Equal(t, want, migrateURL(in), in)
	}
}

func TestNew_BadConnString(t *testing.T) {
	_, err := New(context.Background(), "postgres://%zz", fstest.MapFS{})
	require.Error(t, err)
}

package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Setenv("MEALSUB_TEST_HOST", "db.local")
	src := `
# comment
export MEALSUB_A=1
MEALSUB_B = "quoted # kept"
MEALSUB_C='literal ${MEALSUB_TEST_HOST}'
MEALSUB_D=postgres://${MEALSUB_TEST_HOST}/app # trailing
not a pair
=novalue
`
	got := Parse(strings.NewReader(src))
	assert.Equal(t, [][2]string{
		{"MEALSUB_A", "1"},
		{"MEALSUB_B", "quoted # kept"},
		{"MEALSUB_C", "literal ${MEALSUB_TEST_HOST}"},
		{"MEALSUB_D", "postgres://db.local/app"},
	}, got)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, ".env")
	second := filepath.Join(dir, ".env.local")
	require.NoError(t, os.WriteFile(first, []byte("MEALSUB_X1=env\nMEALSUB_X2=env\n"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("MEALSUB_X2=local\nMEALSUB_X3=local\n"), 0o600))
	t.Setenv("MEALSUB_X1", "process")
	t.Setenv("MEALSUB_X2", "")
	os.Unsetenv("MEALSUB_X2")
	t.Setenv("MEALSUB_X3", "")
	os.Unsetenv("MEALSUB_X3")

	read := Load(first, filepath.Join(dir, "missing"), second)

	assert.Equal(t, []string{first, second}, read)
	assert.Equal(t, "process", os.Getenv("MEALSUB_X1"))
	assert.Equal(t, "local", os.Getenv("MEALSUB_X2"))
	assert.Equal(t, "local", os.Getenv("MEALSUB_X3"))
}

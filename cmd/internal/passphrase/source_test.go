package passphrase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceUsesEnvironment(t *testing.T) {
	t.Setenv("LENDCTL_TEST_PASS", "correct horse")
	src := NewSource("LENDCTL_TEST_PASS", "signer")
	got, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "correct horse", got)

	t.Setenv("LENDCTL_TEST_PASS", "changed")
	got, err = src.Get()
	require.NoError(t, err)
	require.Equal(t, "correct horse", got, "value is cached after first read")
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("LENDCTL_TEST_PASS", "   ")
	_, err := NewSource("LENDCTL_TEST_PASS", "signer").Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourceWithoutTerminal(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "stdin"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	src := NewSource("LENDCTL_UNSET_PASS", "signer")
	src.stdin = f
	_, err = src.Get()
	require.ErrorContains(t, err, "LENDCTL_UNSET_PASS")
}

package transcript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hello world", Normalize("  hello \n\t world "))
	require.Empty(t, Normalize(" \n "))
}

func TestJoinFinalsAndInterim(t *testing.T) {
	t.Parallel()

	finals := []string{" hello", "world.", "\nfrom"}
	require.Equal(t, "hello world. from voxpage", Join(finals, " voxpage "))
	require.Equal(t, "hello world. from", Join(finals, "  "))
	require.Equal(t, []string{" hello", "world.", "\nfrom"}, finals)
}

func TestJoinEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, Join(nil, ""))
	require.Empty(t, Join([]string{"  ", "\n\t"}, " "))
	require.Equal(t, "only interim", Join(nil, "only   interim"))
}

func TestJoinDoesNotWriteIntoSpareCapacity(t *testing.T) {
	t.Parallel()

	finals := make([]string, 1, 4)
	finals[0] = "one"
	_ = Join(finals, "two")
	require.Empty(t, finals[:2][1])
}

func TestWithPrefix(t *testing.T) {
	t.Parallel()

	require.Equal(t, "draft hello", WithPrefix("draft", "hello"))
	require.Equal(t, "draft hello", WithPrefix("draft \n", " hello "))
	require.Equal(t, "hello", WithPrefix("", "hello"))
	require.Equal(t, "draft", WithPrefix("draft", ""))
}

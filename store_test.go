package telaio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtensionStore(t *testing.T) {
	s := newExtensionStore(true)
	require.NotPanics(t, func() { s.assertEmpty() })

	h1 := &extHost{name: "a"}
	h2 := &extHost{name: "b"}
	s.add(h1)
	s.add(h2)
	require.ElementsMatch(t, []string{"a", "b"}, s.names())

	require.Panics(t, func() { s.add(&extHost{name: "a"}) }, "double registration is a bug")
	require.Panics(t, func() { s.assertEmpty() }, "remaining entries are leaks")

	s.remove("a")
	s.remove("b")
	require.Panics(t, func() { s.remove("a") }, "removing twice is a bug")
	require.NotPanics(t, func() { s.assertEmpty() })
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	factory := func() Extension { return &BaseExtension{} }

	require.NoError(t, r.Register("echo", factory))
	require.ErrorIs(t, r.Register("echo", factory), ErrAddonConflict)
	require.ErrorIs(t, r.Register("", factory), ErrAddonConflict)
	require.ErrorIs(t, r.Register("nil", nil), ErrAddonConflict)

	f, err := r.lookup("echo")
	require.NoError(t, err)
	require.NotNil(t, f())

	_, err = r.lookup("ghost")
	require.ErrorIs(t, err, ErrAddonUnknown)
}

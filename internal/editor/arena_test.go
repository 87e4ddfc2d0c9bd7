package editor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/appexplorer/internal/cardstore"
	"github.com/gosuda/appexplorer/internal/domain"
	"github.com/gosuda/appexplorer/internal/editor"
	"github.com/gosuda/appexplorer/internal/store/memory"
)

func newArena(t *testing.T) (*editor.Arena, *cardstore.Store) {
	t.Helper()

	s, err := cardstore.Open(context.Background(), memory.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	a := editor.NewArena(s)
	t.Cleanup(a.Stop)
	return a, s
}

func TestArena_OpenAndHover(t *testing.T) {
	t.Parallel()

	a, s := newArena(t)
	s.AddBoard("b1", "Team Board")
	require.NoError(t, s.SetCard("b1", domain.Card{MiroLink: "m1", Title: "Login", Path: "src/auth.go"}))
	require.NoError(t, s.SetCard("b1", domain.Card{MiroLink: "m2", Title: "Logout", Path: "src/auth.go"}))
	require.NoError(t, s.SetCard("b1", domain.Card{MiroLink: "m3", Title: "Render", Path: "src/view.go"}))

	id := editor.NewSessionID()
	cards, err := a.Open(id, "src/auth.go")
	require.NoError(t, err)
	assert.Len(t, cards, 2)

	c, ok := a.CardForWord(id, "Logout")
	require.True(t, ok)
	assert.Equal(t, "m2", c.MiroLink)
	assert.Equal(t, "Miro: [Logout](m2)\n", editor.HoverMarkdown(c))

	_, ok = a.CardForWord(id, "Render")
	assert.False(t, ok)
	_, ok = a.CardForWord(id, "")
	assert.False(t, ok)
	_, ok = a.CardForWord(editor.NewSessionID(), "Login")
	assert.False(t, ok)
}

func TestArena_RefreshesOnStoreChange(t *testing.T) {
	t.Parallel()

	a, s := newArena(t)
	s.AddBoard("b1", "Team Board")

	id := editor.NewSessionID()
	cards, err := a.Open(id, "src/auth.go")
	require.NoError(t, err)
	assert.Empty(t, cards)

	require.NoError(t, s.SetCard("b1", domain.Card{MiroLink: "m1", Title: "Login", Path: "src/auth.go"}))
	cards, ok := a.Cards(id)
	require.True(t, ok)
	require.Len(t, cards, 1)

	s.DeleteCardByLink("m1")
	cards, _ = a.Cards(id)
	assert.Empty(t, cards)
}

func TestArena_Sessions(t *testing.T) {
	t.Parallel()

	a, _ := newArena(t)

	_, err := a.Open("not-a-uuid", "src/a.go")
	require.ErrorIs(t, err, editor.ErrInvalidSession)

	id1, id2 := editor.NewSessionID(), editor.NewSessionID()
	_, err = a.Open(id1, "src/a.go")
	require.NoError(t, err)
	_, err = a.Open(id2, "src/b.go")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Len())

	// Reopening moves the session to a new file.
	_, err = a.Open(id1, "src/c.go")
	require.NoError(t, err)
	sess, ok := a.Session(id1)
	require.True(t, ok)
	assert.Equal(t, "src/c.go", sess.Path)
	assert.Equal(t, 2, a.Len())

	assert.True(t, a.Close(id1))
	assert.False(t, a.Close(id1))
	_, ok = a.Cards(id1)
	assert.False(t, ok)
	assert.Equal(t, 1, a.Len())
}

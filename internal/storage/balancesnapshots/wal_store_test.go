package balancesnapshots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/walletsync/internal/domain"
)

func TestWALStore_SaveAndViewsAfter(t *testing.T) {
	store, err := NewWALStore(t.TempDir(), nil)
	require.NoError(t, err)
	defer store.Close()

	require.Error(t, store.Save(domain.BalanceView{}))

	store.Render(domain.BalanceView{Timestamp: time.Now(), Email: "a@x.io", DisplayValue: "...."})
	store.Render(domain.BalanceView{Timestamp: time.Now(), Email: "b@x.io", DisplayValue: "$1.00"})
	store.Render(domain.BalanceView{Timestamp: time.Now(), Email: "a@x.io", DisplayValue: "$534.50", Loaded: true})

	all, err := store.ViewsAfter("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	forA, err := store.ViewsAfter("a@x.io", 0)
	require.NoError(t, err)
	require.Len(t, forA, 2)
	assert.Equal(t, "$534.50", forA[1].View.DisplayValue)

	after, err := store.ViewsAfter("a@x.io", forA[0].Index)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.True(t, after[0].View.Loaded)

	latest, ok := store.Latest("a@x.io")
	require.True(t, ok)
	assert.Equal(t, store.CurrentIndex(), latest.Index)

	none, err := store.ViewsAfter("", store.CurrentIndex())
	require.NoError(t, err)
	assert.Empty(t, none)
}

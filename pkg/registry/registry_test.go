package registry

import (
	"testing"

	"github.com/shuttle-bridge/shuttle/node/pkg/adapters"
	"github.com/shuttle-bridge/shuttle/node/pkg/db"
	"github.com/shuttle-bridge/shuttle/node/pkg/message"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestAdapterRegistryRoundTrip(t *testing.T) {
	database := newTestDB(t)
	rdb := db.NewRegistryDB(database.Conn())

	reg, err := NewAdapters(zap.NewNop(), rdb)
	require.NoError(t, err)

	selector := message.Selector(4949)
	_, ok := reg.Get(selector)
	assert.False(t, ok)

	require.NoError(t, reg.Set(selector, adapters.ID("generic-relay")))
	id, ok := reg.Get(selector)
	require.True(t, ok)
	assert.Equal(t, adapters.ID("generic-relay"), id)

	require.NoError(t, reg.Remove(selector))
	_, ok = reg.Get(selector)
	assert.False(t, ok)
}

func TestAdapterRegistryRejectsEmptyID(t *testing.T) {
	database := newTestDB(t)

	reg, err := NewAdapters(zap.NewNop(), db.NewRegistryDB(database.Conn()))
	require.NoError(t, err)

	assert.Error(t, reg.Set(message.Selector(1), adapters.ID("")))
}

func TestAdapterRegistryReloadsFromDB(t *testing.T) {
	database := newTestDB(t)
	rdb := db.NewRegistryDB(database.Conn())

	reg, err := NewAdapters(zap.NewNop(), rdb)
	require.NoError(t, err)
	require.NoError(t, reg.Set(message.Selector(10), adapters.ID("retryable-ticket")))
	require.NoError(t, reg.Set(message.Selector(42161), adapters.ID("generic-relay")))

	// A fresh registry over the same database must see the persisted entries.
	reloaded, err := NewAdapters(zap.NewNop(), rdb)
	require.NoError(t, err)

	id, ok := reloaded.Get(message.Selector(10))
	require.True(t, ok)
	assert.Equal(t, adapters.ID("retryable-ticket"), id)
	assert.Len(t, reloaded.All(), 2)
}

func TestCounterpartyRegistryRoundTrip(t *testing.T) {
	database := newTestDB(t)
	rdb := db.NewRegistryDB(database.Conn())

	reg, err := NewCounterparties(zap.NewNop(), rdb)
	require.NoError(t, err)

	selector := message.Selector(8453)
	remote := common.HexToAddress("0x8Ba1f109551bD432803012645Ac136ddd64DBA72")

	_, ok := reg.Get(selector)
	assert.False(t, ok)

	require.NoError(t, reg.Set(selector, remote))
	got, ok := reg.Get(selector)
	require.True(t, ok)
	assert.Equal(t, remote, got)

	reloaded, err := NewCounterparties(zap.NewNop(), rdb)
	require.NoError(t, err)
	got, ok = reloaded.Get(selector)
	require.True(t, ok)
	assert.Equal(t, remote, got)

	require.NoError(t, reg.Remove(selector))
	_, ok = reg.Get(selector)
	assert.False(t, ok)
}

func TestRegistryAllReturnsCopy(t *testing.T) {
	database := newTestDB(t)

	reg, err := NewAdapters(zap.NewNop(), db.NewRegistryDB(database.Conn()))
	require.NoError(t, err)
	require.NoError(t, reg.Set(message.Selector(1), adapters.ID("ferry")))

	all := reg.All()
	all[message.Selector(1)] = adapters.ID("mutated")
	all[message.Selector(2)] = adapters.ID("added")

	id, ok := reg.Get(message.Selector(1))
	require.True(t, ok)
	assert.Equal(t, adapters.ID("ferry"), id)
	_, ok = reg.Get(message.Selector(2))
	assert.False(t, ok)
}

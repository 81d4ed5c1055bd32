package market_test

import (
	"context"
	"testing"

	"github.com/cipherworks/fhemarket/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterProvider(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	entry, err := e.RegisterProvider(ctx, provider, "ipfs://QmMeta", 250)
	require.NoError(t, err)
	assert.Equal(t, provider, entry.Address)
	assert.Equal(t, "ipfs://QmMeta", entry.MetadataURI)
	assert.Equal(t, int64(250), entry.BasePrice)
	assert.True(t, entry.Active)

	got, err := e.GetProviderEntry(ctx, provider)
	require.NoError(t, err)
	assert.Equal(t, entry.Position, got.Position)
}

func TestRegisterProvider_Duplicate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.RegisterProvider(ctx, provider, "ipfs://one", 100)
	require.NoError(t, err)

	_, err = e.RegisterProvider(ctx, provider, "ipfs://two", 200)
	assert.ErrorIs(t, err, market.ErrAlreadyRegistered)
}

func TestRegisterProvider_NegativePrice(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, _ := newTestEngine(t)

	_, err := e.RegisterProvider(context.Background(), provider, "ipfs://one", -1)
	assert.ErrorIs(t, err, market.ErrInvalidAmount)
}

func TestUpdateProviderEntry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	registered, err := e.RegisterProvider(ctx, provider, "ipfs://old", 100)
	require.NoError(t, err)

	updated, err := e.UpdateProviderEntry(ctx, provider, "ipfs://new", 300, false)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://new", updated.MetadataURI)
	assert.Equal(t, int64(300), updated.BasePrice)
	assert.False(t, updated.Active)
	// Updates happen in place; the list position never moves
	assert.Equal(t, registered.Position, updated.Position)
}

func TestUpdateProviderEntry_NotRegistered(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, _ := newTestEngine(t)

	_, err := e.UpdateProviderEntry(context.Background(), provider, "ipfs://x", 10, true)
	assert.ErrorIs(t, err, market.ErrNotRegistered)
}

func TestGetProviders_RegistrationOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	addrs := []struct {
		addr string
		uri  string
	}{
		{"3", "ipfs://three"},
		{"1", "ipfs://one"},
		{"2", "ipfs://two"},
	}
	for _, a := range addrs {
		_, err := e.RegisterProvider(ctx, testAddr(a.addr[0]), a.uri, 10)
		require.NoError(t, err)
	}

	// Deactivating an entry keeps it listed
	_, err := e.UpdateProviderEntry(ctx, testAddr('1'), "ipfs://one", 10, false)
	require.NoError(t, err)

	listed, err := e.GetProviders(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "ipfs://three", listed[0].MetadataURI)
	assert.Equal(t, "ipfs://one", listed[1].MetadataURI)
	assert.Equal(t, "ipfs://two", listed[2].MetadataURI)
	assert.False(t, listed[1].Active)
}

func TestGetProviderEntry_NotRegistered(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	e, _, _ := newTestEngine(t)

	_, err := e.GetProviderEntry(context.Background(), stranger)
	assert.ErrorIs(t, err, market.ErrNotRegistered)
}

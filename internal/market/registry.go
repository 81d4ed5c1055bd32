package market

import (
	"context"
	"errors"

	"github.com/cipherworks/fhemarket/internal/store"
	"github.com/cipherworks/fhemarket/pkg/models"
)

// RegisterProvider lists a provider in the catalog. One entry per address;
// the entry is appended to the enumerable provider list and starts active.
func (e *Engine) RegisterProvider(ctx context.Context, provider models.Address, metadataURI string, basePrice int64) (*models.ProviderEntry, error) {
	if basePrice < 0 {
		return nil, ErrInvalidAmount
	}

	entry := &models.ProviderEntry{
		Address:     provider,
		MetadataURI: metadataURI,
		BasePrice:   basePrice,
		Active:      true,
	}

	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		if err := s.CreateProvider(ctx, entry); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				return ErrAlreadyRegistered
			}
			return err
		}
		return e.emit(ctx, s, &queue, models.EventProviderRegistered, nil, provider, map[string]any{
			"provider":     provider,
			"metadata_uri": metadataURI,
			"base_price":   basePrice,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, queue)
	return entry, nil
}

// UpdateProviderEntry overwrites a provider's listing in place. The list
// position never changes and entries are never removed, only deactivated.
func (e *Engine) UpdateProviderEntry(ctx context.Context, provider models.Address, metadataURI string, basePrice int64, active bool) (*models.ProviderEntry, error) {
	if basePrice < 0 {
		return nil, ErrInvalidAmount
	}

	var entry *models.ProviderEntry
	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		existing, err := s.GetProvider(ctx, provider)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotRegistered
		}
		if err != nil {
			return err
		}

		existing.MetadataURI = metadataURI
		existing.BasePrice = basePrice
		existing.Active = active
		if err := s.UpdateProvider(ctx, existing); err != nil {
			return err
		}
		entry = existing

		return e.emit(ctx, s, &queue, models.EventProviderUpdated, nil, provider, map[string]any{
			"provider":     provider,
			"metadata_uri": metadataURI,
			"base_price":   basePrice,
			"active":       active,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, queue)
	return entry, nil
}

// GetProviders returns every registry entry, inactive ones included, in
// registration order.
func (e *Engine) GetProviders(ctx context.Context) ([]*models.ProviderEntry, error) {
	return e.store.ListProviders(ctx)
}

// GetProviderEntry returns a single registry entry.
func (e *Engine) GetProviderEntry(ctx context.Context, provider models.Address) (*models.ProviderEntry, error) {
	entry, err := e.store.GetProvider(ctx, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotRegistered
	}
	return entry, err
}

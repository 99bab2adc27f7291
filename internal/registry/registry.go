package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mtds-alfa/kipu-bank-v2/internal/domain"
	"github.com/mtds-alfa/kipu-bank-v2/internal/pricing"
)

// Notifier receives registry events.
type Notifier interface {
	Publish(event domain.Event)
}

// Entry is the registered metadata of one asset.
type Entry struct {
	Asset    domain.Asset
	Source   pricing.Source
	Decimals uint8
}

// Registry maintains the set of supported assets. Enumeration preserves
// insertion order, but removal swaps with the last element, so order is not
// stable across mutations. Membership checks are O(1) through the presence map.
type Registry struct {
	mu       sync.RWMutex
	native   domain.Asset
	entries  map[domain.Asset]Entry
	order    []domain.Asset
	notifier Notifier
	logger   *slog.Logger
}

// NewRegistry builds a registry with the native asset already registered. The
// native asset can never be removed.
func NewRegistry(native domain.Asset, nativeSource pricing.Source, nativeDecimals uint8, notifier Notifier, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		native:   native,
		entries:  make(map[domain.Asset]Entry),
		notifier: notifier,
		logger:   logger,
	}
	if err := r.Add(native, nativeSource, nativeDecimals); err != nil {
		return nil, fmt.Errorf("register native asset: %w", err)
	}
	return r, nil
}

// Add upserts an asset's metadata. Re-adding an existing asset overwrites its
// metadata without duplicating its entry in the enumerable set.
func (r *Registry) Add(asset domain.Asset, source pricing.Source, decimals uint8) error {
	if decimals > domain.MaxAssetDecimals {
		return fmt.Errorf("%w: %d exceeds maximum %d", domain.ErrInvalidDecimals, decimals, domain.MaxAssetDecimals)
	}
	if source == nil {
		if asset.IsZero() {
			return fmt.Errorf("%w: zero asset and zero price source", domain.ErrInvalidPriceSource)
		}
		return fmt.Errorf("%w: nil price source for asset %s", domain.ErrInvalidPriceSource, asset)
	}

	r.mu.Lock()
	_, exists := r.entries[asset]
	r.entries[asset] = Entry{Asset: asset, Source: source, Decimals: decimals}
	if !exists {
		r.order = append(r.order, asset)
	}
	r.mu.Unlock()

	r.logger.Info("asset registered",
		slog.String("asset", string(asset)),
		slog.String("price_source", source.Description()),
		slog.Int("decimals", int(decimals)),
		slog.Bool("updated", exists))

	if r.notifier != nil {
		r.notifier.Publish(domain.NewEvent(domain.EventAssetRegistered, domain.AssetRegistered{
			Asset:       asset,
			PriceSource: source.Description(),
			Decimals:    decimals,
		}))
	}
	return nil
}

// Remove deletes an asset. The native asset is guarded; enumeration order is
// not preserved across removals (swap-with-last).
func (r *Registry) Remove(asset domain.Asset) error {
	if asset == r.native {
		return fmt.Errorf("%w: native asset cannot be removed", domain.ErrInvalidAsset)
	}

	r.mu.Lock()
	if _, ok := r.entries[asset]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrAssetNotSupported, asset)
	}
	delete(r.entries, asset)
	for i, a := range r.order {
		if a == asset {
			last := len(r.order) - 1
			r.order[i] = r.order[last]
			r.order = r.order[:last]
			break
		}
	}
	r.mu.Unlock()

	r.logger.Info("asset removed", slog.String("asset", string(asset)))

	if r.notifier != nil {
		r.notifier.Publish(domain.NewEvent(domain.EventAssetRemoved, domain.AssetRemoved{Asset: asset}))
	}
	return nil
}

func (r *Registry) IsSupported(asset domain.Asset) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[asset]
	return ok
}

func (r *Registry) Info(asset domain.Asset) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[asset]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", domain.ErrAssetNotSupported, asset)
	}
	return entry, nil
}

func (r *Registry) DecimalsOf(asset domain.Asset) (uint8, error) {
	entry, err := r.Info(asset)
	if err != nil {
		return 0, err
	}
	return entry.Decimals, nil
}

func (r *Registry) SourceOf(asset domain.Asset) (pricing.Source, error) {
	entry, err := r.Info(asset)
	if err != nil {
		return nil, err
	}
	return entry.Source, nil
}

// Assets enumerates the registered assets in insertion order (order is not
// stable across removals).
func (r *Registry) Assets() []domain.Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Asset, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) Native() domain.Asset { return r.native }

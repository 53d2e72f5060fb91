// Package assets implements the append-only asset registry. Ids 1-9
// are the regular market assets, ids 11-19 their inverse counterparts
// (same symbol, reciprocal price), id 10 the COIN settlement token and
// id 21 the CASH settlement token.
package assets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/coinvest_unified/internal/admin"
	"github.com/Aidin1998/coinvest_unified/pkg/errs"
	"github.com/Aidin1998/coinvest_unified/pkg/models"
)

// Designated exchange asset ids for the COIN<->CASH par shortcut.
const (
	CoinAssetID uint32 = 10
	CashAssetID uint32 = 21
)

// InverseOffset separates a regular asset id from its inverse id.
const InverseOffset uint32 = 10

// Registry resolves asset ids against the registry table.
type Registry struct {
	db     *gorm.DB
	admin  *admin.Config
	logger *zap.Logger
}

// NewRegistry creates a registry over the shared database.
func NewRegistry(db *gorm.DB, adminCfg *admin.Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{db: db, admin: adminCfg, logger: logger}
}

// WithTx returns a copy of the registry scoped to the given
// transaction.
func (r *Registry) WithTx(tx *gorm.DB) *Registry {
	c := *r
	c.db = tx
	return &c
}

// Get resolves an asset id, failing with ErrUnknownAsset when the id
// has no registry entry.
func (r *Registry) Get(ctx context.Context, id uint32) (*models.Asset, error) {
	var asset models.Asset
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("asset %d: %w", id, errs.ErrUnknownAsset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %d: %w", id, err)
	}
	return &asset, nil
}

// List returns every registered asset ordered by id.
func (r *Registry) List(ctx context.Context) ([]*models.Asset, error) {
	var out []*models.Asset
	if err := r.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return out, nil
}

// AddAsset appends a new registry entry. Administrator-only; existing
// entries are never modified or removed.
func (r *Registry) AddAsset(ctx context.Context, capability uuid.UUID, id uint32, symbol string, basePrice decimal.Decimal, isInverse bool) error {
	if err := r.admin.Authorize(capability); err != nil {
		return err
	}
	asset := models.Asset{
		ID:        id,
		Symbol:    symbol,
		BasePrice: basePrice,
		IsInverse: isInverse,
		CreatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&asset).Error; err != nil {
		return fmt.Errorf("failed to add asset %d: %w", id, err)
	}
	r.logger.Info("asset added",
		zap.Uint32("id", id),
		zap.String("symbol", symbol),
		zap.Bool("inverse", isInverse))
	return nil
}

// Seed installs the default asset layout when the table is empty.
func (r *Registry) Seed(ctx context.Context) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Asset{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count assets: %w", err)
	}
	if count > 0 {
		return nil
	}

	symbols := []string{"BTC", "ETH", "XRP", "LTC", "DASH", "BCH", "XMR", "XEM", "EOS"}
	now := time.Now()
	entries := make([]models.Asset, 0, 2*len(symbols)+2)
	for i, sym := range symbols {
		entries = append(entries, models.Asset{ID: uint32(i + 1), Symbol: sym, CreatedAt: now})
	}
	entries = append(entries, models.Asset{ID: CoinAssetID, Symbol: string(models.SettlementCoin), CreatedAt: now})
	for i, sym := range symbols {
		entries = append(entries, models.Asset{ID: uint32(i+1) + InverseOffset, Symbol: sym, IsInverse: true, CreatedAt: now})
	}
	entries = append(entries, models.Asset{ID: CashAssetID, Symbol: string(models.SettlementCash), CreatedAt: now})

	if err := r.db.WithContext(ctx).Create(&entries).Error; err != nil {
		return fmt.Errorf("failed to seed assets: %w", err)
	}
	r.logger.Info("asset registry seeded", zap.Int("count", len(entries)))
	return nil
}

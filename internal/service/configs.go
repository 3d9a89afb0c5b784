package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kekeling/kekeling/services/distribution/internal/domain"
	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
)

// ConfigManager reads and writes distribution configurations. At most one
// is active at a time.
type ConfigManager struct {
	log      *logging.Logger
	store    repository.Store
	clock    Clock
	validate *validator.Validate
}

func NewConfigManager(log *logging.Logger, store repository.Store, clock Clock, validate *validator.Validate) *ConfigManager {
	return &ConfigManager{log: log.Named("config"), store: store, clock: clock, validate: validate}
}

func (c *ConfigManager) ActiveConfig(ctx context.Context) (*domain.DistributionConfig, error) {
	var cfg *domain.DistributionConfig
	err := c.store.ReadTx(ctx, func(tx repository.Tx) (err error) {
		cfg, err = tx.GetActiveConfig(ctx)
		return err
	})
	return cfg, err
}

// SaveConfig validates and stores cfg. Saving an active configuration
// deactivates every other one in the same transaction.
func (c *ConfigManager) SaveConfig(ctx context.Context, cfg *domain.DistributionConfig) (*domain.DistributionConfig, error) {
	if cfg == nil {
		return nil, domain.Validationf("configuration is required")
	}
	saved := *cfg
	if saved.Status == "" {
		saved.Status = domain.ConfigStatusActive
	}
	if err := c.validate.Struct(&saved); err != nil {
		return nil, domain.Validationf("invalid configuration: %v", err)
	}
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}
	saved.UpdatedAt = c.clock.GetTimeNow()

	err := c.store.WriteTx(ctx, func(tx repository.Tx) error {
		if err := tx.SaveConfig(ctx, &saved); err != nil {
			return err
		}
		if saved.Status == domain.ConfigStatusActive {
			return tx.DeactivateOtherConfigs(ctx, saved.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save configuration: %w", err)
	}

	c.log.Info("distribution configuration saved",
		logging.String("config_id", saved.ID),
		logging.String("status", string(saved.Status)),
		logging.String("rate_top", saved.Rates.Top.String()),
		logging.String("rate_mid", saved.Rates.Mid.String()),
		logging.String("rate_base", saved.Rates.Base.String()))
	return &saved, nil
}

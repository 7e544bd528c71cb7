// Package settings serves operator-tunable knobs from the settings table,
// falling back to environment defaults.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/internal/fees"
	"github.com/doncapon/yemisshop-sub004/pkg/config"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

// Setting keys stored in the settings table.
const (
	KeyGatewayPercent              = "fees.gateway_percent"
	KeyGatewayInternationalPercent = "fees.gateway_international_percent"
	KeyGatewayFlatMinor            = "fees.gateway_flat_minor"
	KeyGatewayFlatWaiverMinor      = "fees.gateway_flat_waiver_minor"
	KeyGatewayCapMinor             = "fees.gateway_cap_minor"
	KeyBaseFeeMinor                = "fees.base_fee_minor"
	KeyCommsCostPerMessageMinor    = "fees.comms_cost_per_message_minor"
	KeyProfitMode                  = "profit.mode"
	KeySplitEnabled                = "payments.split_enabled"
)

// Snapshot is an immutable view of the settings at one point in time.
type Snapshot struct {
	Fees                     fees.Schedule
	BaseFeeMinor             int64
	CommsCostPerMessageMinor int64
	ProfitMode               enums.ProfitMode
	SplitEnabled             bool
}

// Provider hands out the cached snapshot and reloads it on demand.
type Provider interface {
	Current() Snapshot
	Refresh(ctx context.Context) (Snapshot, error)
}

// Defaults builds the fallback snapshot from environment configuration.
func Defaults(cfg config.FeesConfig, flags config.FeatureFlagsConfig) (Snapshot, error) {
	pct, err := decimal.NewFromString(cfg.GatewayPercent)
	if err != nil {
		return Snapshot{}, fmt.Errorf("gateway percent: %w", err)
	}
	intl, err := decimal.NewFromString(cfg.GatewayInternationalPercent)
	if err != nil {
		return Snapshot{}, fmt.Errorf("gateway international percent: %w", err)
	}
	mode := enums.ProfitModeAccurate
	if cfg.ProfitMode != "" {
		parsed, err := enums.ParseProfitMode(strings.ToLower(cfg.ProfitMode))
		if err != nil {
			return Snapshot{}, err
		}
		mode = parsed
	}
	return Snapshot{
		Fees: fees.Schedule{
			Percent:              pct,
			InternationalPercent: intl,
			FlatMinor:            cfg.GatewayFlatMinor,
			FlatWaiverMinor:      cfg.GatewayFlatWaiverMinor,
			CapMinor:             cfg.GatewayCapMinor,
		},
		BaseFeeMinor:             cfg.BaseFeeMinor,
		CommsCostPerMessageMinor: cfg.CommsCostPerMessageMinor,
		ProfitMode:               mode,
		SplitEnabled:             flags.SplitEnabled,
	}, nil
}

// Store is the database-backed Provider.
type Store struct {
	db       *gorm.DB
	logg     *logger.Logger
	defaults Snapshot

	mu      sync.RWMutex
	current Snapshot
}

// NewStore returns a provider primed with defaults. Call Refresh to overlay
// the settings table.
func NewStore(db *gorm.DB, defaults Snapshot, logg *logger.Logger) *Store {
	return &Store{db: db, logg: logg, defaults: defaults, current: defaults}
}

// Current returns the cached snapshot.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Refresh reloads the settings table. Unparseable values keep their default
// and are logged.
func (s *Store) Refresh(ctx context.Context) (Snapshot, error) {
	var rows []models.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return s.Current(), err
	}

	next := s.defaults
	for _, row := range rows {
		if err := apply(&next, row.Key, strings.TrimSpace(row.Value)); err != nil && s.logg != nil {
			logCtx := s.logg.WithField(ctx, "setting", row.Key)
			s.logg.Warn(logCtx, fmt.Sprintf("ignoring invalid setting: %v", err))
		}
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}

func apply(snap *Snapshot, key, value string) error {
	switch key {
	case KeyGatewayPercent:
		return setDecimal(&snap.Fees.Percent, value)
	case KeyGatewayInternationalPercent:
		return setDecimal(&snap.Fees.InternationalPercent, value)
	case KeyGatewayFlatMinor:
		return setInt(&snap.Fees.FlatMinor, value)
	case KeyGatewayFlatWaiverMinor:
		return setInt(&snap.Fees.FlatWaiverMinor, value)
	case KeyGatewayCapMinor:
		return setInt(&snap.Fees.CapMinor, value)
	case KeyBaseFeeMinor:
		return setInt(&snap.BaseFeeMinor, value)
	case KeyCommsCostPerMessageMinor:
		return setInt(&snap.CommsCostPerMessageMinor, value)
	case KeyProfitMode:
		mode, err := enums.ParseProfitMode(strings.ToLower(value))
		if err != nil {
			return err
		}
		snap.ProfitMode = mode
	case KeySplitEnabled:
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		snap.SplitEnabled = enabled
	}
	return nil
}

func setDecimal(dst *decimal.Decimal, value string) error {
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return err
	}
	if parsed.IsNegative() {
		return fmt.Errorf("negative value %s", value)
	}
	*dst = parsed
	return nil
}

func setInt(dst *int64, value string) error {
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("negative value %d", parsed)
	}
	*dst = parsed
	return nil
}

// Static is a fixed Provider, handy for tools and tests.
type Static Snapshot

// Current returns the fixed snapshot.
func (s Static) Current() Snapshot { return Snapshot(s) }

// Refresh returns the fixed snapshot.
func (s Static) Refresh(context.Context) (Snapshot, error) { return Snapshot(s), nil }

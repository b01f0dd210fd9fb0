package sensors

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"airsense/internal/storage"
)

// CalibrationPeriod is how often the gas calibration blob is saved once
// the sensor has calibrated.
const CalibrationPeriod = 360 * time.Minute

const (
	calibrationNamespace = "bsec"
	calibrationKey       = "state"
)

// CalibrationKeeper saves the gas calibration blob the first time the
// sensor reports full accuracy and then every CalibrationPeriod of uptime.
type CalibrationKeeper struct {
	store  storage.Storage
	gas    GasSource
	logger *zap.Logger
	start  time.Time
	period time.Duration
	saves  int

	// OnSave is called after every successful save.
	OnSave func()
}

// NewCalibrationKeeper creates a keeper measuring uptime from start.
func NewCalibrationKeeper(store storage.Storage, gas GasSource, start time.Time, logger *zap.Logger) *CalibrationKeeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalibrationKeeper{
		store:  store,
		gas:    gas,
		logger: logger,
		start:  start,
		period: CalibrationPeriod,
	}
}

// Restore loads a saved blob into the gas source. A missing blob is not
// an error.
func (k *CalibrationKeeper) Restore() error {
	blob, err := k.store.Get(calibrationNamespace, calibrationKey)
	if errors.Is(err, storage.ErrNotFound) {
		k.logger.Info("no saved calibration state")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read calibration state: %w", err)
	}

	if err := k.gas.SetState(blob); err != nil {
		// drop it so the sensor calibrates from scratch next boot
		if derr := k.store.Delete(calibrationNamespace, calibrationKey); derr != nil {
			k.logger.Warn("failed to delete rejected calibration state", zap.Error(derr))
		}
		return fmt.Errorf("failed to restore calibration state: %w", err)
	}
	k.logger.Info("restored calibration state", zap.Int("bytes", len(blob)))
	return nil
}

// Observe is called with every new gas sample and saves the blob when due.
func (k *CalibrationKeeper) Observe(accuracy uint8, now time.Time) bool {
	if !k.due(accuracy, now) {
		return false
	}
	// a failed save waits for the next period
	k.saves++

	blob, err := k.gas.State()
	if err != nil {
		k.logger.Warn("failed to export calibration state", zap.Error(err))
		return false
	}
	if err := k.store.Set(calibrationNamespace, calibrationKey, blob); err != nil {
		k.logger.Warn("failed to save calibration state", zap.Error(err))
		return false
	}

	k.logger.Info("saved calibration state",
		zap.Uint8("accuracy", accuracy),
		zap.Int("saves", k.saves))
	if k.OnSave != nil {
		k.OnSave()
	}
	return true
}

func (k *CalibrationKeeper) due(accuracy uint8, now time.Time) bool {
	if k.saves == 0 {
		return accuracy >= 3
	}
	return now.Sub(k.start) > time.Duration(k.saves)*k.period
}

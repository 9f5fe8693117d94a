package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/jgoulah/dtumonitor/internal/config"
	"github.com/jgoulah/dtumonitor/pkg/models"
	"go.uber.org/zap"
)

// ErrUnreachable means the DTU could not deliver a reading this cycle. It is
// transient: callers keep showing the last known values and try again on the
// next tick.
var ErrUnreachable = errors.New("dtu unreachable")

// Request identifies the device to query
type Request struct {
	Address  string
	MaxPower int // Peak system power in W, passed through as a hint
}

// Source yields one PV reading per call. The returned reading has no
// timestamp; the caller stamps it with the acquisition time.
type Source interface {
	Read(ctx context.Context, req Request) (models.Reading, error)
}

// New returns the source selected by cfg
func New(cfg *config.Config, logger *zap.Logger) (Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.GetSource() {
	case config.SourceHelper:
		if len(cfg.DTU.HelperCommand) == 0 {
			return nil, errors.New("helper source needs dtu.helper_command")
		}
		return NewHelperSource(cfg.DTU.HelperCommand, cfg.GetFetchTimeout(), logger), nil
	case config.SourceOpenDTU:
		return NewOpenDTUSource(cfg.GetFetchTimeout(), logger), nil
	default:
		return nil, fmt.Errorf("unknown source: %s (available: %s, %s)", cfg.GetSource(), config.SourceHelper, config.SourceOpenDTU)
	}
}

func validate(r models.Reading) error {
	if r.Power < 0 || r.EnergyDaily < 0 || r.EnergyTotal < 0 {
		return fmt.Errorf("negative value in reading (power=%v daily=%v total=%v)", r.Power, r.EnergyDaily, r.EnergyTotal)
	}
	return nil
}

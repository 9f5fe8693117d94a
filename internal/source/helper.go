package source

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/jgoulah/dtumonitor/pkg/models"
	"go.uber.org/zap"
)

// HelperSource runs an external helper process that talks to the DTU. The
// helper gets "--ip <address> --max <watts>" appended to its command line and
// must print a JSON object with power (W), energy_daily (kWh) and
// energy_total (MWh) as the last line of stdout. Empty output or "null"
// means the DTU had nothing to report.
type HelperSource struct {
	command []string
	timeout time.Duration
	logger  *zap.Logger
}

type helperOutput struct {
	Power       float64 `json:"power"`
	EnergyDaily float64 `json:"energy_daily"`
	EnergyTotal float64 `json:"energy_total"`
}

// NewHelperSource creates a source running command for every read
func NewHelperSource(command []string, timeout time.Duration, logger *zap.Logger) *HelperSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HelperSource{
		command: command,
		timeout: timeout,
		logger:  logger,
	}
}

// Read runs the helper once
func (s *HelperSource) Read(ctx context.Context, req Request) (models.Reading, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := append(slices.Clone(s.command[1:]), "--ip", req.Address, "--max", strconv.Itoa(req.MaxPower))
	cmd := exec.CommandContext(ctx, s.command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug("running helper", zap.Strings("command", cmd.Args))
	if err := cmd.Run(); err != nil {
		return models.NoReading, fmt.Errorf("%w: running helper: %v (stderr: %s)", ErrUnreachable, err, strings.TrimSpace(stderr.String()))
	}

	line := lastLine(stdout.Bytes())
	if len(line) == 0 || string(line) == "null" {
		return models.NoReading, fmt.Errorf("%w: helper returned no data", ErrUnreachable)
	}

	var out helperOutput
	if err := json.Unmarshal(line, &out); err != nil {
		return models.NoReading, fmt.Errorf("%w: parsing helper output: %v", ErrUnreachable, err)
	}

	r := models.Reading{
		Power:       out.Power,
		EnergyDaily: out.EnergyDaily,
		EnergyTotal: out.EnergyTotal,
	}
	if err := validate(r); err != nil {
		return models.NoReading, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return r, nil
}

// lastLine returns the last non-empty line of out
func lastLine(out []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	return bytes.TrimSpace(lines[len(lines)-1])
}

package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/jgoulah/dtumonitor/pkg/models"
	"go.uber.org/zap"
)

const openDTULivePath = "/api/livedata/status"

// OpenDTUSource reads live data from an OpenDTU web API
type OpenDTUSource struct {
	client *http.Client
	logger *zap.Logger
}

// openDTUValue is OpenDTU's value/unit/decimals triple
type openDTUValue struct {
	V float64 `json:"v"`
	U string  `json:"u"`
}

type openDTUStatus struct {
	Inverters []struct {
		Serial    string `json:"serial"`
		Reachable bool   `json:"reachable"`
	} `json:"inverters"`
	Total struct {
		Power      openDTUValue `json:"Power"`
		YieldDay   openDTUValue `json:"YieldDay"`
		YieldTotal openDTUValue `json:"YieldTotal"`
	} `json:"total"`
}

// NewOpenDTUSource creates an OpenDTU source
func NewOpenDTUSource(timeout time.Duration, logger *zap.Logger) *OpenDTUSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenDTUSource{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Read fetches the livedata status and sums it into a reading
func (s *OpenDTUSource) Read(ctx context.Context, req Request) (models.Reading, error) {
	reqURL := baseURL(req.Address) + openDTULivePath

	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return models.NoReading, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	s.logger.Debug("querying OpenDTU", zap.String("url", reqURL))
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return models.NoReading, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.NoReading, fmt.Errorf("%w: reading response body: %v", ErrUnreachable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return models.NoReading, fmt.Errorf("%w: API returned status %d: %s", ErrUnreachable, resp.StatusCode, string(body))
	}

	var status openDTUStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return models.NoReading, fmt.Errorf("%w: parsing livedata: %v", ErrUnreachable, err)
	}

	reachable := 0
	for _, inv := range status.Inverters {
		if inv.Reachable {
			reachable++
		}
	}
	if reachable == 0 {
		return models.NoReading, fmt.Errorf("%w: no inverter reachable (%d configured)", ErrUnreachable, len(status.Inverters))
	}

	daily, err := toKWh(status.Total.YieldDay)
	if err != nil {
		return models.NoReading, fmt.Errorf("%w: YieldDay: %v", ErrUnreachable, err)
	}
	total, err := toKWh(status.Total.YieldTotal)
	if err != nil {
		return models.NoReading, fmt.Errorf("%w: YieldTotal: %v", ErrUnreachable, err)
	}

	r := models.Reading{
		Power:       status.Total.Power.V,
		EnergyDaily: daily,
		EnergyTotal: total / 1000, // kWh → MWh
	}
	if err := validate(r); err != nil {
		return models.NoReading, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return r, nil
}

func toKWh(v openDTUValue) (float64, error) {
	switch v.U {
	case "Wh":
		return v.V / 1000, nil
	case "kWh", "":
		return v.V, nil
	case "MWh":
		return v.V * 1000, nil
	default:
		return 0, fmt.Errorf("unexpected unit %q", v.U)
	}
}

func baseURL(address string) string {
	address = strings.TrimRight(address, "/")
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return address
	}
	return "http://" + address
}

package publisher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jgoulah/dtumonitor/internal/config"
	"github.com/jgoulah/dtumonitor/pkg/models"
)

const (
	defaultEntityPrefix = "sensor.dtumonitor"
	discoveryPrefix     = "homeassistant"
	publishTimeout      = 10 * time.Second
)

// sensor describes one of the three published figures
type sensor struct {
	Key         string
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
	Value       func(models.Reading) float64
}

var sensors = []sensor{
	{"power", "PV Power", "W", "power", "measurement", func(r models.Reading) float64 { return r.Power }},
	{"energy_daily", "PV Energy Today", "kWh", "energy", "total_increasing", func(r models.Reading) float64 { return r.EnergyDaily }},
	{"energy_total", "PV Energy Total", "MWh", "energy", "total_increasing", func(r models.Reading) float64 { return r.EnergyTotal }},
}

// Publisher sends readings to Home Assistant over MQTT and/or its REST API
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	haConfig    config.HAConfig
	httpClient  *http.Client
	logger      *zap.Logger
}

// New creates a new publisher (supports both MQTT and HA HTTP API)
func New(mqttCfg config.MQTTConfig, haCfg config.HAConfig, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Validate HA config if enabled
	if haCfg.Enabled {
		if haCfg.URL == "" {
			return nil, fmt.Errorf("Home Assistant URL is required when enabled")
		}
		if haCfg.Token == "" {
			return nil, fmt.Errorf("Home Assistant token is required when enabled")
		}
	}

	p := &Publisher{
		haConfig:   haCfg,
		httpClient: &http.Client{Timeout: publishTimeout},
		logger:     logger,
	}

	if mqttCfg.Enabled {
		if mqttCfg.Broker == "" {
			return nil, fmt.Errorf("MQTT broker address is required when enabled")
		}

		p.topicPrefix = mqttCfg.TopicPrefix
		if p.topicPrefix == "" {
			p.topicPrefix = config.DefaultTopicPrefix
		}

		// Configure MQTT client options
		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s", mqttCfg.Broker))
		opts.SetClientID("dtumonitor-" + uuid.NewString()[:8])
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectTimeout(10 * time.Second)

		if mqttCfg.Username != "" {
			opts.SetUsername(mqttCfg.Username)
		}
		if mqttCfg.Password != "" {
			opts.SetPassword(mqttCfg.Password)
		}

		// Create and connect client
		p.client = mqtt.NewClient(opts)
		if token := p.client.Connect(); token.WaitTimeout(publishTimeout) && token.Error() != nil {
			return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
		}

		if mqttCfg.Discovery {
			if err := p.PublishDiscovery(); err != nil {
				p.logger.Warn("could not publish discovery config", zap.Error(err))
			}
		}
	}

	return p, nil
}

// Enabled reports whether any publishing target is configured
func (p *Publisher) Enabled() bool {
	return p.client != nil || p.haConfig.Enabled
}

// StateTopic returns the MQTT topic readings are published on
func (p *Publisher) StateTopic() string {
	return p.topicPrefix + "/state"
}

// statePayload is the retained MQTT state message
type statePayload struct {
	Timestamp   string  `json:"timestamp"`
	Power       float64 `json:"power"`
	EnergyDaily float64 `json:"energy_daily"`
	EnergyTotal float64 `json:"energy_total"`
}

// discoveryPayload is a Home Assistant MQTT discovery config
type discoveryPayload struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic"`
	ValueTemplate     string `json:"value_template"`
	UnitOfMeasurement string `json:"unit_of_measurement"`
	DeviceClass       string `json:"device_class"`
	StateClass        string `json:"state_class"`
}

// PublishDiscovery announces the three sensors to Home Assistant
func (p *Publisher) PublishDiscovery() error {
	if p.client == nil {
		return fmt.Errorf("MQTT publishing is not enabled in config")
	}
	for _, s := range sensors {
		id := p.topicPrefix + "_" + s.Key
		body, err := json.Marshal(discoveryPayload{
			Name:              s.Name,
			UniqueID:          id,
			StateTopic:        p.StateTopic(),
			ValueTemplate:     "{{ value_json." + s.Key + " }}",
			UnitOfMeasurement: s.Unit,
			DeviceClass:       s.DeviceClass,
			StateClass:        s.StateClass,
		})
		if err != nil {
			return fmt.Errorf("encoding discovery payload: %w", err)
		}
		topic := fmt.Sprintf("%s/sensor/%s/config", discoveryPrefix, id)
		if err := p.publishMQTT(topic, body); err != nil {
			return err
		}
	}
	return nil
}

// Publish sends a reading to every enabled target
func (p *Publisher) Publish(ctx context.Context, reading models.Reading) error {
	if !p.Enabled() {
		return fmt.Errorf("no publishing target is enabled in config")
	}

	if p.client != nil {
		body, err := json.Marshal(statePayload{
			Timestamp:   reading.Timestamp.Format(time.RFC3339),
			Power:       reading.Power,
			EnergyDaily: reading.EnergyDaily,
			EnergyTotal: reading.EnergyTotal,
		})
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}
		if err := p.publishMQTT(p.StateTopic(), body); err != nil {
			return err
		}
	}

	if p.haConfig.Enabled {
		for _, s := range sensors {
			if err := p.publishHA(ctx, s, reading); err != nil {
				return fmt.Errorf("publishing %s: %w", s.Key, err)
			}
		}
	}

	p.logger.Debug("reading published", zap.Time("timestamp", reading.Timestamp))
	return nil
}

func (p *Publisher) publishMQTT(topic string, body []byte) error {
	token := p.client.Publish(topic, 1, true, body)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// haState matches the Home Assistant POST /api/states/<entity_id> body
type haState struct {
	State      string            `json:"state"`
	Attributes map[string]string `json:"attributes"`
}

func (p *Publisher) publishHA(ctx context.Context, s sensor, reading models.Reading) error {
	prefix := p.haConfig.EntityPrefix
	if prefix == "" {
		prefix = defaultEntityPrefix
	}
	entityID := prefix + "_" + s.Key
	apiURL := fmt.Sprintf("%s/api/states/%s", strings.TrimRight(p.haConfig.URL, "/"), entityID)

	body, err := json.Marshal(haState{
		State: strconv.FormatFloat(s.Value(reading), 'f', -1, 64),
		Attributes: map[string]string{
			"friendly_name":       s.Name,
			"unit_of_measurement": s.Unit,
			"device_class":        s.DeviceClass,
			"state_class":         s.StateClass,
			"last_reading":        reading.Timestamp.Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.haConfig.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		// Read error response body for debugging
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

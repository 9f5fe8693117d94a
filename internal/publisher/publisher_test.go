package publisher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jgoulah/dtumonitor/internal/config"
	"github.com/jgoulah/dtumonitor/pkg/models"
)

type doneToken struct {
	mqtt.Token
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

type message struct {
	Topic    string
	Retained bool
	Payload  []byte
}

type fakeClient struct {
	mqtt.Client
	mu       sync.Mutex
	messages []message
	err      error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{Topic: topic, Retained: retained, Payload: payload.([]byte)})
	return doneToken{err: c.err}
}

func (c *fakeClient) IsConnected() bool { return true }
func (c *fakeClient) Disconnect(uint)   {}

var sample = models.Reading{
	Timestamp:   time.Date(2024, 6, 1, 13, 37, 0, 0, time.UTC),
	Power:       612,
	EnergyDaily: 3.33,
	EnergyTotal: 1.02,
}

func newMQTTPublisher(c *fakeClient) *Publisher {
	return &Publisher{
		client:      c,
		topicPrefix: "balcony",
		httpClient:  http.DefaultClient,
		logger:      zap.NewNop(),
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(config.MQTTConfig{}, config.HAConfig{Enabled: true, Token: "x"}, nil)
	assert.ErrorContains(t, err, "URL is required")

	_, err = New(config.MQTTConfig{}, config.HAConfig{Enabled: true, URL: "http://ha"}, nil)
	assert.ErrorContains(t, err, "token is required")

	_, err = New(config.MQTTConfig{Enabled: true}, config.HAConfig{}, nil)
	assert.ErrorContains(t, err, "broker address is required")

	p, err := New(config.MQTTConfig{}, config.HAConfig{}, nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Error(t, p.Publish(context.Background(), sample))
}

func TestPublishMQTTState(t *testing.T) {
	c := &fakeClient{}
	p := newMQTTPublisher(c)

	require.NoError(t, p.Publish(context.Background(), sample))
	require.Len(t, c.messages, 1)
	msg := c.messages[0]
	assert.Equal(t, "balcony/state", msg.Topic)
	assert.True(t, msg.Retained)

	var got statePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, statePayload{
		Timestamp:   "2024-06-01T13:37:00Z",
		Power:       612,
		EnergyDaily: 3.33,
		EnergyTotal: 1.02,
	}, got)
}

func TestPublishMQTTError(t *testing.T) {
	c := &fakeClient{err: assert.AnError}
	p := newMQTTPublisher(c)
	assert.ErrorIs(t, p.Publish(context.Background(), sample), assert.AnError)
}

func TestPublishDiscovery(t *testing.T) {
	c := &fakeClient{}
	p := newMQTTPublisher(c)

	require.NoError(t, p.PublishDiscovery())
	require.Len(t, c.messages, 3)

	topics := make([]string, 0, 3)
	for _, msg := range c.messages {
		topics = append(topics, msg.Topic)
		assert.True(t, msg.Retained)
	}
	assert.Equal(t, []string{
		"homeassistant/sensor/balcony_power/config",
		"homeassistant/sensor/balcony_energy_daily/config",
		"homeassistant/sensor/balcony_energy_total/config",
	}, topics)

	var got discoveryPayload
	require.NoError(t, json.Unmarshal(c.messages[1].Payload, &got))
	assert.Equal(t, "balcony/state", got.StateTopic)
	assert.Equal(t, "{{ value_json.energy_daily }}", got.ValueTemplate)
	assert.Equal(t, "kWh", got.UnitOfMeasurement)
}

func TestPublishHomeAssistant(t *testing.T) {
	var mu sync.Mutex
	states := map[string]haState{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var s haState
		require.NoError(t, json.Unmarshal(body, &s))

		mu.Lock()
		states[r.URL.Path] = s
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p, err := New(config.MQTTConfig{}, config.HAConfig{
		Enabled:      true,
		URL:          srv.URL + "/",
		Token:        "secret",
		EntityPrefix: "sensor.balcony",
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), sample))
	require.Len(t, states, 3)
	assert.Equal(t, "612", states["/api/states/sensor.balcony_power"].State)
	assert.Equal(t, "W", states["/api/states/sensor.balcony_power"].Attributes["unit_of_measurement"])
	assert.Equal(t, "3.33", states["/api/states/sensor.balcony_energy_daily"].State)
	assert.Equal(t, "1.02", states["/api/states/sensor.balcony_energy_total"].State)
	assert.Equal(t, "MWh", states["/api/states/sensor.balcony_energy_total"].Attributes["unit_of_measurement"])
}

func TestPublishHomeAssistantError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New(config.MQTTConfig{}, config.HAConfig{Enabled: true, URL: srv.URL, Token: "bad"}, nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), sample)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "publishing power")
}

package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/shaunagostinho/luminox-dash/internal/luminox"
	"github.com/shaunagostinho/luminox-dash/internal/output"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultClientID   = "luminox-dash"
	DefaultStateTopic = "luminox/state"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	unitPercent            = "%"
	stateClassMeasurement  = "measurement"
	valueTemplateO2        = "{{ value_json.o2_percent }}"

	connectTimeout = 10 * time.Second
	quiesceMs      = 250
)

// Config holds broker settings.
type Config struct {
	Server         string
	Username       string
	Password       string
	ClientID       string
	StateTopic     string
	DiscoveryTopic string // Home Assistant discovery topic, empty to skip
}

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
}

func NewMQTT(cfg Config) (output.Output, error) {
	cfg = withDefaults(cfg)
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timed out after %v", connectTimeout)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	log.Printf("[mqtt] connected to %s as %s", cfg.Server, cfg.ClientID)

	m := &MQTTOutput{client: client, stateTopic: cfg.StateTopic}

	if cfg.DiscoveryTopic != "" {
		payload := discoveryPayload(cfg)
		if err := m.publishJSON(cfg.DiscoveryTopic, true, payload); err != nil {
			log.Printf("[mqtt] discovery publish error: %v", err)
		}
	}
	return m, nil
}

func (m *MQTTOutput) Publish(r luminox.Reading) error {
	return m.publishJSON(m.stateTopic, false, statePayload(r))
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(quiesceMs)
	}
	return nil
}

func (m *MQTTOutput) publishJSON(topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := m.client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}

func withDefaults(cfg Config) Config {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.StateTopic == "" {
		cfg.StateTopic = DefaultStateTopic
	}
	return cfg
}

// statePayload flattens a reading. Fields the wire format did not carry
// are omitted rather than sent as -1.
func statePayload(r luminox.Reading) map[string]interface{} {
	payload := map[string]interface{}{
		"ppo2_mbar":     r.PPO2,
		"temperature_c": r.Temperature,
		"status":        r.Status,
		"valid":         r.Valid,
	}
	if r.HasO2Percent() {
		payload["o2_percent"] = r.O2Percent
	}
	if r.HasPressure() {
		payload["pressure_mbar"] = r.Pressure
	}
	if r.Error != "" {
		payload["error"] = r.Error
	}
	if !r.Time.IsZero() {
		payload["time"] = r.Time.UTC().Format(time.RFC3339)
	}
	return payload
}

func discoveryPayload(cfg Config) map[string]interface{} {
	return map[string]interface{}{
		keyName:                fmt.Sprintf("LuminOx %s", cfg.ClientID),
		keyStateTopic:          cfg.StateTopic,
		keyUnitOfMeasurement:   unitPercent,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplateO2,
		keyJSONAttributesTopic: cfg.StateTopic,
		keyUniqueID:            cfg.ClientID + "_o2",
	}
}

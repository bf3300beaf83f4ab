package messaging

import (
	"fmt"
	"log"
	"time"

	"phasetrack/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttQoS = 1

type mqttTransport struct {
	conn mqtt.Client
}

func brokerURL(cfg *config.MQTTConfig) string {
	return fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)
}

func dialMQTT(cfg *config.MessagingConfig) (*mqttTransport, error) {
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = cfg.NodeID
	}
	url := brokerURL(&cfg.MQTT)
	opts := mqtt.NewClientOptions().
		AddBroker(url).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("messaging: mqtt connection lost: %v", err)
		})

	conn := mqtt.NewClient(opts)
	if tok := conn.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", url, tok.Error())
	}
	log.Printf("messaging: mqtt connected to %s as %s", url, clientID)
	return &mqttTransport{conn: conn}, nil
}

func (m *mqttTransport) publish(topic string, payload []byte) error {
	if !m.conn.IsConnected() {
		return ErrNotConnected
	}
	tok := m.conn.Publish(topic, mqttQoS, false, payload)
	tok.Wait()
	return tok.Error()
}

func (m *mqttTransport) subscribe(topic string, handler func([]byte)) error {
	tok := m.conn.Subscribe(topic, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	tok.Wait()
	return tok.Error()
}

func (m *mqttTransport) connected() bool { return m.conn.IsConnected() }

func (m *mqttTransport) close() { m.conn.Disconnect(1000) }

package mqtt

import (
	"fmt"
)

// maxPayloadSize caps a single message. A full device state is well under
// 1 KiB, so anything near this is a bug upstream.
const maxPayloadSize = 1 << 20

// Publish sends payload on topic and waits for the broker to accept it.
//
// Retained messages replace the broker's stored copy for topic, so they suit
// snapshots (state, device status) and not events (telemetry, commands).
//
//	err := client.Publish(client.Topics().Telemetry(), delta, 0, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// PublishRetained publishes a retained snapshot at the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.QoS(), true)
}

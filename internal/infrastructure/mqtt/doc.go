// Package mqtt provides the control bridge's MQTT client.
//
// It wraps paho.mqtt.golang with:
//   - Auto-reconnect with subscription restore
//   - Last Will and Testament on {prefix}/system/status
//   - Validated publish and subscribe helpers
//   - Prefix-based topic builders (see Topics)
//
// The client is optional. When MQTT is disabled the bridge runs with HTTP
// and WebSocket only; when enabled, package mirror publishes state through
// this client and feeds inbound commands back into the store.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        kind, _ := topics.CommandKind(topic)
//	        return handle(kind, payload)
//	    })
package mqtt

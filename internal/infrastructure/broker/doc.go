// Package broker runs an optional in-process MQTT broker.
//
// A bench setup often has no Mosquitto instance around. With
// mqtt.embedded.enabled the bridge starts this broker first and its own
// MQTT client connects to it like any other client, so panels and scripts
// can subscribe to the same topics they would see on a real broker.
//
// The broker allows every client; it is meant for trusted local networks.
package broker

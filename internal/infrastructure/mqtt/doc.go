// Package mqtt publishes simulator state to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - A retained status topic with Last Will and Testament for offline detection
//   - Lifecycle event and statistics publishing
//   - Command subscriptions (e.g. resetting the simulated device)
//
// # Topics
//
//	modsim/<instance>/status
//	modsim/<instance>/event/<kind>
//	modsim/<instance>/stats
//	modsim/<instance>/command/<name>
//
// The prefix is configurable with mqtt.topic_prefix.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, instanceID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.PublishEvent("up", map[string]string{"server": "tcp"})
package mqtt

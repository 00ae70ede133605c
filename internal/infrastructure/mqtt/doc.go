// Package mqtt connects Gray Logic Comm to the Gray Logic message bus.
//
// The comm service publishes its events, controller status, decoded device
// state and link health, and accepts commands for controllers:
//
//	graylogic/system/comm/status                      service online/offline (retained, LWT)
//	graylogic/comm/event/{type}                       comm events
//	graylogic/comm/status/{link}/{controller}         controller status (retained)
//	graylogic/comm/state/{link}/{controller}/{key}    decoded device values
//	graylogic/comm/health/{link}                      link health (retained)
//	graylogic/comm/command/{link}/{controller}        commands in
//	graylogic/comm/command-result/{link}/{controller} command outcomes
//
// The client wraps paho.mqtt.golang with auto-reconnect, subscription
// restoration and panic-safe handlers.
//
// Usage:
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.LinkHealth("signs"), health, true)
package mqtt

package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes of the comm service. Everything the service publishes
// lives under TopicPrefixComm, except the service status which sits with
// the other Gray Logic services under TopicPrefixSystem.
const (
	TopicPrefixComm   = "graylogic/comm"
	TopicPrefixSystem = "graylogic/system"
)

// Topics builds comm topic names.
//
//	mqtt.Topics{}.State("knx-main", "thermostat", "temperature")
//	// graylogic/comm/state/knx-main/thermostat/temperature
type Topics struct{}

// ServiceStatus is the retained online/offline topic (also the LWT).
//
// Example: graylogic/system/comm/status
func (Topics) ServiceStatus() string {
	return TopicPrefixSystem + "/comm/status"
}

// Event is where comm events of one type are published.
//
// Example: graylogic/comm/event/COMM_FAILED
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixComm, eventType)
}

// ControllerStatus is the retained status of one controller.
//
// Example: graylogic/comm/status/signs/dms-1
func (Topics) ControllerStatus(link, controller string) string {
	return fmt.Sprintf("%s/status/%s/%s", TopicPrefixComm, link, controller)
}

// State carries one decoded device value.
//
// Example: graylogic/comm/state/knx-main/thermostat/temperature
func (Topics) State(link, controller, key string) string {
	return fmt.Sprintf("%s/state/%s/%s/%s", TopicPrefixComm, link, controller, key)
}

// LinkHealth is the retained health summary of one link.
//
// Example: graylogic/comm/health/signs
func (Topics) LinkHealth(link string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixComm, link)
}

// Command is where other services ask for an operation on a controller.
//
// Example: graylogic/comm/command/signs/dms-1
func (Topics) Command(link, controller string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixComm, link, controller)
}

// CommandResult reports the outcome of one command.
//
// Example: graylogic/comm/command-result/signs/dms-1
func (Topics) CommandResult(link, controller string) string {
	return fmt.Sprintf("%s/command-result/%s/%s", TopicPrefixComm, link, controller)
}

// AllCommands matches every command topic.
func (Topics) AllCommands() string {
	return TopicPrefixComm + "/command/+/+"
}

// AllEvents matches every event topic.
func (Topics) AllEvents() string {
	return TopicPrefixComm + "/event/+"
}

// ParseCommandTopic splits a command topic into link and controller.
func ParseCommandTopic(topic string) (link, controller string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixComm+"/command/")
	if !found {
		return "", "", false
	}
	link, controller, found = strings.Cut(rest, "/")
	if !found || link == "" || controller == "" || strings.Contains(controller, "/") {
		return "", "", false
	}
	return link, controller, true
}

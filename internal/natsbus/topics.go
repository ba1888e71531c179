package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicAgentEvents(agentID string) string {
	return fmt.Sprintf("events.agent.%s", agentID)
}

func TopicWorkflowEvents(workflowID string) string {
	return fmt.Sprintf("events.workflow.%s", workflowID)
}

func TopicCollabEvents(sessionID string) string {
	return fmt.Sprintf("events.collab.%s", sessionID)
}

func TopicScheduleEvents() string {
	return "events.schedule"
}

// TopicBackendComplete is the request-reply subject for the NATS-backed model
// completion capability, keyed by model name.
func TopicBackendComplete(model string) string {
	return fmt.Sprintf("backend.complete.%s", model)
}

const (
	TopicEventsAll      = "events.>"
	TopicEventsWorkflow = "events.workflow.*"
	TopicEventsCollab   = "events.collab.*"
	TopicEventsAgent    = "events.agent.*"
)

package agent

// Metadata keys threaded through collaboration hops. Metadata is the only
// channel carrying collaboration bookkeeping; every hop copies and extends
// it, never replaces it.
const (
	MetaSessionID     = "collab_session_id"
	MetaProtocol      = "collab_protocol"
	MetaInitiator     = "initiator_id"
	MetaPrevAgent     = "prev_agent_id"
	MetaNextAgent     = "next_agent_id"
	MetaCoordinator   = "coordinator_id"
	MetaIsCoordinator = "is_coordinator"
	MetaIsIntegration = "is_integration"
	MetaWorkerResults = "worker_results"
	MetaTask          = "task"
)

type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type Input struct {
	Prompt   string         `json:"prompt"`
	Context  string         `json:"context,omitempty"`
	Files    []File         `json:"files,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Output struct {
	Response        string           `json:"response"`
	Actions         []Action         `json:"actions,omitempty"`
	ExecutedActions []ExecutedAction `json:"executed_actions,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}

// MergeMetadata copies base and lays extra over it. Neither input map is
// mutated, so metadata accumulated upstream survives every hop.
func MergeMetadata(base map[string]any, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

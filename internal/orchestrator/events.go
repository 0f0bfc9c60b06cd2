package orchestrator

import (
	"time"

	"github.com/google/uuid"
	"github.com/loomworks/api/internal/eventbus"
	"go.uber.org/zap"
)

// State is one node of the generation lifecycle
type State string

const (
	StateReceived    State = "RECEIVED"
	StateCacheLookup State = "CACHE_LOOKUP"
	StateRouting     State = "ROUTING"
	StateReserving   State = "RESERVING"
	StateGenerating  State = "GENERATING"
	StateValidating  State = "VALIDATING"
	StateStoring     State = "STORING"
	StateDone        State = "DONE"
	StateRejected    State = "REJECTED"
)

// TransitionEvent is emitted once per state transition of a request
type TransitionEvent struct {
	RequestID uuid.UUID `json:"request_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	ExactKey  string    `json:"exact_key"`
	State     State     `json:"state"`
	Provider  string    `json:"provider,omitempty"`
	CostDelta float64   `json:"cost_delta"`
	At        time.Time `json:"at"`
}

func (o *Orchestrator) transition(requestID, tenantID uuid.UUID, exactKey string, state State, provider string, costDelta float64) {
	event := TransitionEvent{
		RequestID: requestID,
		TenantID:  tenantID,
		ExactKey:  exactKey,
		State:     state,
		Provider:  provider,
		CostDelta: costDelta,
		At:        o.now(),
	}

	o.logger.Debug("state transition",
		zap.String("request_id", requestID.String()),
		zap.String("state", string(state)),
		zap.String("provider", provider),
		zap.Float64("cost_delta", costDelta),
	)
	if o.metrics != nil {
		o.metrics.StateTransitions.WithLabelValues(string(state)).Inc()
	}
	if o.bus != nil {
		o.bus.Publish(eventbus.SubjectTransitions, event)
	}
}

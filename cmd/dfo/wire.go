package main

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/eljelink/dfo/internal/trbstate"
)

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func decisionFromWire(decisionID string, triggerNumber, runNumber uint64, payload []byte) trbstate.TriggerDecision {
	id, err := uuid.Parse(decisionID)
	if err != nil {
		id = uuid.New()
	}
	return trbstate.TriggerDecision{
		DecisionID:    id,
		TriggerNumber: triggerNumber,
		RunNumber:     runNumber,
		Payload:       payload,
	}
}

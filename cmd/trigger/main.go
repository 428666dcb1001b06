// Command trigger is a stand-in upstream trigger source: it posts a stream
// of trigger decisions to the orchestrator's decision intake endpoint at a
// fixed rate, simulating the physics trigger this spec treats as external.
package main

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type decisionWire struct {
	DecisionID    string `json:"decision_id"`
	TriggerNumber uint64 `json:"trigger_number"`
	RunNumber     uint64 `json:"run_number"`
	Payload       []byte `json:"payload"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	dfoURL := getenv("DFO_URL", "http://localhost:9200")
	runNumber := uint64(envInt("RUN_NUMBER", 1))
	rateHz := envInt("TRIGGER_RATE_HZ", 10)
	count := envInt("TRIGGER_COUNT", 0) // 0 = unbounded

	if rateHz < 1 {
		rateHz = 1
	}
	interval := time.Second / time.Duration(rateHz)
	client := &http.Client{Timeout: 5 * time.Second}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var triggerNumber uint64
	for range ticker.C {
		triggerNumber++
		wire := decisionWire{
			DecisionID:    uuid.New().String(),
			TriggerNumber: triggerNumber,
			RunNumber:     runNumber,
			Payload:       []byte("trigger-" + strconv.FormatUint(triggerNumber, 10)),
		}
		body, err := json.Marshal(wire)
		if err != nil {
			log.Printf("trigger: encoding decision %d: %v", triggerNumber, err)
			continue
		}
		resp, err := client.Post(dfoURL+"/decision", "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("trigger: posting decision %d: %v", triggerNumber, err)
			continue
		}
		resp.Body.Close()

		if count > 0 && int(triggerNumber) >= count {
			return
		}
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

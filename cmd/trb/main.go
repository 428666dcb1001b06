// Command trb is a stand-in trigger-record-builder worker: it accepts
// assigned trigger decisions over HTTP, simulates the time it takes to
// build the corresponding event record, and posts a completion token back
// to the orchestrator's token connection.
package main

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/eljelink/dfo/internal/trbstate"
)

func burn(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	buf := make([]byte, 4096)
	h := sha256.New()
	for time.Now().Before(deadline) {
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			panic(fmt.Errorf("trb: crypto/rand read failed: %w", err))
		}
		h.Write(buf)
	}
	_ = h.Sum(nil)[0]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	connectionName := getenv("TRB_CONNECTION", "localhost:9000")
	tokenConnection := getenv("TOKEN_CONNECTION", "localhost:9300")
	buildMS := envInt("TRB_BUILD_MS", 20)

	client := &http.Client{Timeout: 5 * time.Second}

	mux := http.NewServeMux()
	mux.HandleFunc("/decision", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var decision trbstate.TriggerDecision
		if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)

		go buildAndAcknowledge(client, tokenConnection, connectionName, decision, time.Duration(buildMS)*time.Millisecond)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":true}`)
	})

	log.Printf("trb worker %q listening, posting tokens to %q", connectionName, tokenConnection)
	log.Fatal(http.ListenAndServe(connectionName, mux))
}

func buildAndAcknowledge(client *http.Client, tokenConnection, connectionName string, decision trbstate.TriggerDecision, buildTime time.Duration) {
	burn(buildTime)

	token := struct {
		RunNumber           uint64 `json:"run_number"`
		TriggerNumber       uint64 `json:"trigger_number"`
		DecisionDestination string `json:"decision_destination"`
	}{
		RunNumber:           decision.RunNumber,
		TriggerNumber:       decision.TriggerNumber,
		DecisionDestination: connectionName,
	}

	body, err := json.Marshal(token)
	if err != nil {
		log.Printf("trb: encoding token for trigger %d: %v", decision.TriggerNumber, err)
		return
	}

	resp, err := client.Post("http://"+tokenConnection+"/token", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("trb: posting token for trigger %d: %v", decision.TriggerNumber, err)
		return
	}
	defer resp.Body.Close()
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

// Command dfo runs the Data Flow Orchestrator: it loads the recognized
// option set, drives the orchestrator lifecycle, and serves Prometheus
// metrics over HTTP.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eljelink/dfo/internal/config"
	"github.com/eljelink/dfo/internal/decisionsource"
	"github.com/eljelink/dfo/internal/orchestrator"
	"github.com/eljelink/dfo/internal/transport"
)

var (
	configPath   string
	metricsAddr  string
	decisionAddr string
	runNumber    uint64
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	root := &cobra.Command{
		Use:   "dfo",
		Short: "Data Flow Orchestrator: dispatches trigger decisions to a pool of TRB workers",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the DFO YAML config file")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":9100", "address to serve /metrics on")
	root.PersistentFlags().StringVar(&decisionAddr, "decision-addr", ":9200", "address to receive trigger decisions on")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "conf, start, and run the orchestrator until interrupted",
		RunE:  runRun,
	}
	runCmd.Flags().Uint64Var(&runNumber, "run-number", 1, "run number to tag this session's completion tokens with")

	confCmd := &cobra.Command{
		Use:   "conf",
		Short: "validate the config file and exit",
		RunE:  runConf,
	}

	root.AddCommand(runCmd, confCmd)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runConf(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Printf("config OK: %d dataflow applications, token_connection=%q, td_send_retries=%d",
		len(cfg.DataflowApplications), cfg.TokenConnection, cfg.TDSendRetries)
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tp := transport.NewHTTP(nil)
	source := decisionsource.NewChannel(256)
	dfo := orchestrator.New(tp, source, nil)

	if err := dfo.Conf(cfg); err != nil {
		return err
	}
	if err := dfo.Start(runNumber); err != nil {
		return err
	}

	registerer := prometheus.NewRegistry()
	for _, c := range dfo.Metrics().Collectors() {
		registerer.MustRegister(c)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}

	decisionMux := http.NewServeMux()
	decisionMux.HandleFunc("/decision", decisionHandler(source))
	decisionSrv := &http.Server{Addr: decisionAddr, Handler: decisionMux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				dfo.Metrics().RefreshWorkerGauges()
			}
		}
	})

	g.Go(func() error {
		log.Printf("serving metrics on %s", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Printf("serving decision intake on %s", decisionAddr)
		if err := decisionSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		return decisionSrv.Shutdown(shutdownCtx)
	})

	<-ctx.Done()
	log.Println("shutdown requested, stopping dispatcher")

	if err := dfo.Stop(); err != nil {
		log.Printf("stop: %v", err)
	}
	if err := dfo.Scrap(); err != nil {
		log.Printf("scrap: %v", err)
	}

	return g.Wait()
}

func decisionHandler(source *decisionsource.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var wire struct {
			DecisionID    string `json:"decision_id"`
			TriggerNumber uint64 `json:"trigger_number"`
			RunNumber     uint64 `json:"run_number"`
			Payload       []byte `json:"payload"`
		}
		if err := decodeJSON(r, &wire); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		decision := decisionFromWire(wire.DecisionID, wire.TriggerNumber, wire.RunNumber, wire.Payload)
		if !source.TryPush(decision) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

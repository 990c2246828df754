/*
main.go - Standalone executor service

PURPOSE:
  Serves the in-process calculator over HTTP so the ledger server can run
  with executor.mode=http against a real network hop, the same way it talks
  to a hosted function in production.

  POST /invoke  {"operationType":"ADDITION","value1":5,"value2":3}
                -> 200 "Result: 8.0"

COMMAND-LINE FLAGS:
  -port        HTTP port (default: 9090)
  -log-level   debug|info|warn|error (default: info)
  -log-format  json|console (default: json)
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/credit-ledger/executor"
	"github.com/warp/credit-ledger/logging"
)

func main() {
	port := flag.Int("port", 9090, "HTTP server port")
	level := flag.String("log-level", "info", "Log level")
	format := flag.String("log-format", "json", "Log format (json or console)")
	flag.Parse()

	log := logging.New(os.Stderr, *level, *format)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      executor.NewHandler(executor.NewLocal(), log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Msg("executor starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("executor failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("executor forced to shutdown")
	}
	log.Info().Msg("executor stopped")
}

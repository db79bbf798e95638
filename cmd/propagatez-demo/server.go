package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zoobzio/propagatez"
	"go.uber.org/zap"
)

var serverAddr string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve /ping behind the traceparent middleware",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger, err := newLogger(logLevel, "propagatez-demo-server")
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		tracer := propagatez.New(propagatez.WithLogger(logger))
		defer tracer.Close()
		reportSpans(tracer, logger)

		srv := &http.Server{
			Addr:              serverAddr,
			Handler:           newServerHandler(tracer),
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			logger.Info("listening", zap.String("addr", serverAddr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	},
}

func init() {
	serverCmd.Flags().StringVar(&serverAddr, "addr", "127.0.0.1:8080", "Listen address")
	rootCmd.AddCommand(serverCmd)
}

// newServerHandler routes /ping through the traceparent middleware. The
// response echoes the trace the request was served under.
func newServerHandler(tracer *propagatez.Tracer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ping", propagatez.Middleware(tracer, propagatez.WithSpanName("server.ping"))(http.HandlerFunc(ping)))
	return mux
}

func ping(w http.ResponseWriter, r *http.Request) {
	sc, _ := propagatez.SpanContextFromContext(r.Context())
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "pong trace=%s\n", sc.TraceID)
}

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zoobzio/propagatez"
	"go.uber.org/zap"
)

var clientURL string

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Call the demo server inside a root span",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger, err := newLogger(logLevel, "propagatez-demo-client")
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		tracer := propagatez.New(propagatez.WithLogger(logger))
		defer tracer.Close()
		reportSpans(tracer, logger)

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		body, err := call(ctx, tracer, http.DefaultClient, clientURL)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), body)
		return nil
	},
}

func init() {
	clientCmd.Flags().StringVar(&clientURL, "url", "http://127.0.0.1:8080/ping", "Server URL")
	rootCmd.AddCommand(clientCmd)
}

// call sends one GET to url inside a root span, carrying its traceparent.
func call(ctx context.Context, tracer *propagatez.Tracer, client *http.Client, url string) (string, error) {
	ctx, span := tracer.StartRootSpan(ctx, "client.ping")
	defer span.Finish()
	span.SetTag(propagatez.TagHTTPMethod, http.MethodGet)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.SetTag(propagatez.TagError, err.Error())
		return "", err
	}
	for k, v := range propagatez.TraceparentHeaders(ctx) {
		req.Header[k] = v
	}
	tracer.Logger().Debug("sending request",
		zap.String("url", url),
		zap.String("traceparent", req.Header.Get(propagatez.TraceparentHeader)))

	resp, err := client.Do(req)
	if err != nil {
		span.SetTag(propagatez.TagError, err.Error())
		return "", fmt.Errorf("calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		span.SetTag(propagatez.TagError, resp.Status)
		return "", fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

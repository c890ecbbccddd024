package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/3leaps/blaulicht/pkg/httpx"
	"github.com/3leaps/blaulicht/pkg/liveloop"
)

// httpHealthSink writes one CycleResult row to the external store's health
// endpoint per cycle (spec §4.9: "a single row ... written to the external
// store"), kept separate from sink.HTTPStore so pkg/sink never needs to
// know about pkg/liveloop's CycleResult type.
type httpHealthSink struct {
	http     *httpx.Client
	endpoint string
	apiKey   string
}

func newHTTPHealthSink(a *app) *httpHealthSink {
	return &httpHealthSink{http: a.http, endpoint: a.cfg.StoreDSN + "/health", apiKey: a.cfg.StoreAPIKey}
}

func (h *httpHealthSink) WriteHealthRecord(ctx context.Context, result liveloop.CycleResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal health record: %w", err)
	}
	headers := map[string]string{}
	if h.apiKey != "" {
		headers["Authorization"] = "Bearer " + h.apiKey
	}
	resp, err := h.http.PostJSON(ctx, h.endpoint, body, headers)
	if err != nil {
		return err
	}
	_, err = httpx.ReadAndClose(resp)
	return err
}

package emit

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/kestrelsec/kestrel-correlate/internal/config"
	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// OpenSearchSink indexes emitted verdicts so the dashboard can query
// them. Indexing is best-effort; the in-memory pipeline is authoritative.
type OpenSearchSink struct {
	client *opensearch.Client
	index  string
}

// NewOpenSearchSink creates a verdict sink for the configured cluster.
func NewOpenSearchSink(cfg config.OpenSearchConfig) (*OpenSearchSink, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Insecure},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return &OpenSearchSink{client: client, index: cfg.Index}, nil
}

// IndexVerdict writes one verdict document keyed by event ID.
func (s *OpenSearchSink) IndexVerdict(ctx context.Context, verdict *model.Verdict) error {
	body, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      s.index,
		DocumentID: verdict.EventID,
		Body:       bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("failed to index verdict: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("opensearch returned %s indexing verdict", resp.Status())
	}
	return nil
}

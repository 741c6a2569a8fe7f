// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package kb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/advisor-engine/internal/httputil"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

const defaultClass = "CIBCProducts"

// Weaviate queries a remote Weaviate collection of product passages over
// its GraphQL API (R5.2). Semantic nearText search is attempted first;
// when the collection has no vectorizer module the backend falls back to
// bm25 keyword search for the same query.
type Weaviate struct {
	cfg    types.KnowledgeBaseConfig
	client *http.Client
	logger *zap.Logger
}

// NewWeaviate validates the endpoint configuration and returns the backend.
// The connection is deferred until the first query.
func NewWeaviate(cfg types.KnowledgeBaseConfig, logger *zap.Logger) (*Weaviate, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("weaviate backend requires base_url")
	}
	if cfg.Class == "" {
		cfg.Class = defaultClass
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Weaviate{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "kb_weaviate")),
	}, nil
}

// Name returns the backend identifier.
func (w *Weaviate) Name() string { return "weaviate" }

// Close releases pooled connections. Safe to call more than once.
func (w *Weaviate) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

// Search runs a ranked passage query against the collection.
func (w *Weaviate) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	if topK <= 0 {
		topK = 5
	}

	hits, err := w.graphQL(ctx, w.nearTextQuery(query, topK))
	if err != nil && isVectorizerError(err) {
		w.logger.Debug("nearText unsupported, falling back to bm25",
			zap.String("query", query))
		hits, err = w.graphQL(ctx, w.bm25Query(query, topK))
	}
	if err != nil {
		return nil, fmt.Errorf("weaviate search %q: %w", query, err)
	}
	return hits, nil
}

func (w *Weaviate) nearTextQuery(query string, topK int) string {
	return fmt.Sprintf(`{
		Get {
			%s(
				nearText: { concepts: ["%s"] }
				limit: %d
			) {
				docId
				card
				title
				section
				content
				_additional { certainty distance score }
			}
		}
	}`, w.cfg.Class, escapeGraphQLString(query), topK)
}

func (w *Weaviate) bm25Query(query string, topK int) string {
	return fmt.Sprintf(`{
		Get {
			%s(
				bm25: { query: "%s", properties: ["content"] }
				limit: %d
			) {
				docId
				card
				title
				section
				content
				_additional { certainty distance score }
			}
		}
	}`, w.cfg.Class, escapeGraphQLString(query), topK)
}

// graphQL posts a query to /v1/graphql and maps the results to Hits.
func (w *Weaviate) graphQL(ctx context.Context, query string) ([]Hit, error) {
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	endpoint := strings.TrimRight(w.cfg.BaseURL, "/") + "/v1/graphql"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", w.cfg.UserAgent)
	}
	if w.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, w.client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("weaviate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weaviate returned HTTP %d", resp.StatusCode)
	}

	var gr graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("parsing weaviate response: %w", err)
	}
	if len(gr.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql: %s", gr.Errors[0].Message)
	}

	objects := gr.Data.Get[w.cfg.Class]
	hits := make([]Hit, 0, len(objects))
	for _, obj := range objects {
		h := Hit{
			DocID:   obj.DocID,
			Title:   obj.Title,
			Section: obj.Section,
			Snippet: obj.Content,
		}
		if h.Title == "" {
			h.Title = obj.Card
		}
		switch {
		case obj.Additional.Certainty != nil:
			h.Score = *obj.Additional.Certainty
		case obj.Additional.Distance != nil:
			h.Score = 1.0 - *obj.Additional.Distance
		case obj.Additional.Score != nil:
			h.Score = *obj.Additional.Score
		}
		if h.Score < 0 {
			h.Score = 0
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// isVectorizerError recognizes the GraphQL error a collection without a
// text2vec module returns for nearText queries.
func isVectorizerError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "vectorizer") || strings.Contains(msg, "nearText")
}

// escapeGraphQLString escapes quotes, backslashes, and newlines so free
// text can be inlined into a GraphQL document.
func escapeGraphQLString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// Weaviate GraphQL JSON structures.
type graphQLResponse struct {
	Data struct {
		Get map[string][]graphQLObject `json:"Get"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type graphQLObject struct {
	DocID      string `json:"docId"`
	Card       string `json:"card"`
	Title      string `json:"title"`
	Section    string `json:"section"`
	Content    string `json:"content"`
	Additional struct {
		Certainty *float64 `json:"certainty"`
		Distance  *float64 `json:"distance"`
		Score     *float64 `json:"score"`
	} `json:"_additional"`
}

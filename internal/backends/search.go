package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/errkind"
)

// OpenSearchBackend adapts the cluster client to the Search interface.
type OpenSearchBackend struct {
	client *opensearch.Client
	cfg    config.SearchBackendConfig
}

// NewOpenSearch builds the cluster client.
func NewOpenSearch(cfg config.SearchBackendConfig) (*OpenSearchBackend, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.User,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrBackendUnavailable, "search client: %v", err)
	}
	return &OpenSearchBackend{client: client, cfg: cfg}, nil
}

// Hybrid runs the lexical+vector query. With no vector supplied it degrades
// to lexical only, so a dead embedder never blocks search.
func (s *OpenSearchBackend) Hybrid(ctx context.Context, q SearchQuery) ([]NewsHit, error) {
	body, err := buildHybridBody(q, s.cfg)
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrQuery, "search body: %v", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.cfg.Index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		if kerr := errkind.FromContext(err); kerr != err {
			return nil, errkind.Wrap(kerr, "search: %v", err)
		}
		return nil, errkind.Wrap(errkind.ErrBackendUnavailable, "search: %v", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrUpstream, "search read: %v", err)
	}
	if res.IsError() {
		if res.StatusCode == 400 {
			return nil, errkind.Wrap(errkind.ErrQuery, "search rejected: %s", res.Status())
		}
		return nil, errkind.Wrap(errkind.ErrUpstream, "search %s", res.Status())
	}

	hits := parseHits(raw)
	log.Debug().Int("hits", len(hits)).Str("index", s.cfg.Index).Msg("search completed")
	return hits, nil
}

// buildHybridBody constructs the search request: a multi_match over
// title^4/content^2 in a bool should, plus a kNN clause when a vector is
// present. Ties on score break by newest first.
func buildHybridBody(q SearchQuery, cfg config.SearchBackendConfig) ([]byte, error) {
	size := q.Size
	if size <= 0 {
		size = 20
	}

	should := []map[string]any{
		{
			"multi_match": map[string]any{
				"query":  q.Text,
				"fields": []string{"title^4", "content^2"},
				"boost":  cfg.LexicalBoost,
			},
		},
	}
	if len(q.Vector) > 0 {
		should = append(should, map[string]any{
			"knn": map[string]any{
				cfg.VectorField: map[string]any{
					"vector": q.Vector,
					"k":      size,
					"boost":  cfg.VectorBoost,
				},
			},
		})
	}

	boolQuery := map[string]any{
		"should":               should,
		"minimum_should_match": 1,
	}
	if q.LookbackDays > 0 {
		boolQuery["filter"] = []map[string]any{
			{
				"range": map[string]any{
					"created_date": map[string]any{
						"gte": fmt.Sprintf("now-%dd/d", q.LookbackDays),
					},
				},
			},
		}
	}

	body := map[string]any{
		"size":  size,
		"query": map[string]any{"bool": boolQuery},
		"sort": []map[string]any{
			{"_score": map[string]any{"order": "desc"}},
			{"created_date": map[string]any{"order": "desc"}},
		},
		"_source": []string{"title", "content", "summary", "url", "source", "created_date", "metadata"},
	}
	return json.Marshal(body)
}

func parseHits(raw []byte) []NewsHit {
	var hits []NewsHit
	gjson.GetBytes(raw, "hits.hits").ForEach(func(_, hit gjson.Result) bool {
		src := hit.Get("_source")
		h := NewsHit{
			ID:      hit.Get("_id").String(),
			Title:   src.Get("title").String(),
			Content: src.Get("content").String(),
			Summary: src.Get("summary").String(),
			URL:     src.Get("url").String(),
			Source:  src.Get("source").String(),
			Score:   hit.Get("_score").Float(),
		}
		if created := src.Get("created_date").String(); created != "" {
			for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
				if t, err := time.Parse(layout, created); err == nil {
					h.CreatedAt = t
					break
				}
			}
		}
		if meta := src.Get("metadata"); meta.IsObject() {
			h.Metadata = map[string]any{}
			meta.ForEach(func(k, v gjson.Result) bool {
				h.Metadata[k.String()] = v.Value()
				return true
			})
		}
		hits = append(hits, h)
		return true
	})
	return hits
}

// Ping checks cluster liveness, used by the readiness probe.
func (s *OpenSearchBackend) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return errkind.Wrap(errkind.ErrBackendUnavailable, "search: %v", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return errkind.Wrap(errkind.ErrUpstream, "search ping %s", res.Status())
	}
	return nil
}

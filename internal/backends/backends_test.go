package backends

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/errkind"
)

func TestBuildHybridBodyLexicalOnly(t *testing.T) {
	cfg := config.SearchBackendConfig{VectorField: "vector_field", LexicalBoost: 1.0, VectorBoost: 0.8}
	body, err := buildHybridBody(SearchQuery{Text: "삼성전자 HBM", Size: 10}, cfg)
	require.NoError(t, err)

	doc := gjson.ParseBytes(body)
	assert.Equal(t, int64(10), doc.Get("size").Int())

	should := doc.Get("query.bool.should")
	assert.Equal(t, 1, int(should.Get("#").Int()))
	fields := should.Get("0.multi_match.fields")
	assert.Equal(t, "title^4", fields.Get("0").String())
	assert.Equal(t, "content^2", fields.Get("1").String())

	// newest-first tie break after score
	assert.Equal(t, "desc", doc.Get("sort.1.created_date.order").String())
}

func TestBuildHybridBodyWithVectorAndLookback(t *testing.T) {
	cfg := config.SearchBackendConfig{VectorField: "vector_field", LexicalBoost: 1.0, VectorBoost: 0.8}
	q := SearchQuery{Text: "2차전지", Vector: []float32{0.1, 0.2}, Size: 5, LookbackDays: 90}
	body, err := buildHybridBody(q, cfg)
	require.NoError(t, err)

	doc := gjson.ParseBytes(body)
	should := doc.Get("query.bool.should")
	assert.Equal(t, 2, int(should.Get("#").Int()))
	knn := should.Get("1.knn.vector_field")
	assert.Equal(t, int64(5), knn.Get("k").Int())
	assert.InDelta(t, 0.8, knn.Get("boost").Float(), 1e-9)
	assert.Equal(t, "now-90d/d", doc.Get("query.bool.filter.0.range.created_date.gte").String())
}

func TestParseHits(t *testing.T) {
	raw := []byte(`{
	  "hits": {"hits": [
	    {"_id": "a1", "_score": 12.5, "_source": {
	      "title": "삼성전자 실적 발표",
	      "content": "본문",
	      "summary": "요약",
	      "url": "https://example.com/a1",
	      "created_date": "2026-08-24T09:00:00",
	      "metadata": {"sector": "반도체"}
	    }},
	    {"_id": "a2", "_score": 3.0, "_source": {"title": "무제"}}
	  ]}
	}`)
	hits := parseHits(raw)
	require.Len(t, hits, 2)
	assert.Equal(t, "a1", hits[0].ID)
	assert.Equal(t, 12.5, hits[0].Score)
	assert.Equal(t, "삼성전자 실적 발표", hits[0].Title)
	assert.Equal(t, "반도체", hits[0].Metadata["sector"])
	assert.Equal(t, 2026, hits[0].CreatedAt.Year())
	assert.True(t, hits[1].CreatedAt.IsZero())
}

func TestParseHitsEmpty(t *testing.T) {
	assert.Empty(t, parseHits([]byte(`{"hits":{"hits":[]}}`)))
	assert.Empty(t, parseHits([]byte(`not json`)))
}

func TestMarketQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stock/005930", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"005930","name":"삼성전자","price":71200,"change":-800,"change_pct":-1.11,"volume":12345678}`))
	}))
	defer srv.Close()

	m := NewHTTPMarket(config.MarketBackendConfig{URL: srv.URL, APIKey: "test-key", TimeoutMS: 1000})
	snap, err := m.Quote(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, "삼성전자", snap.Name)
	assert.Equal(t, 71200.0, snap.Price)
	assert.False(t, snap.AsOf.IsZero())
}

func TestMarketQuoteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/stock/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/api/stock/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Write([]byte(`{not json`))
		}
	}))
	defer srv.Close()

	m := NewHTTPMarket(config.MarketBackendConfig{URL: srv.URL, TimeoutMS: 1000})
	ctx := context.Background()

	_, err := m.Quote(ctx, "missing")
	assert.ErrorIs(t, err, errkind.ErrQuery)

	_, err = m.Quote(ctx, "broken")
	assert.ErrorIs(t, err, errkind.ErrUpstream)

	_, err = m.Quote(ctx, "garbled")
	assert.ErrorIs(t, err, errkind.ErrParse)

	_, err = m.Quote(ctx, "")
	assert.ErrorIs(t, err, errkind.ErrValidation)
}

func TestMarketUnreachable(t *testing.T) {
	m := NewHTTPMarket(config.MarketBackendConfig{URL: "http://127.0.0.1:1", TimeoutMS: 200})
	_, err := m.Quote(context.Background(), "005930")
	assert.ErrorIs(t, err, errkind.ErrBackendUnavailable)
}

func TestMarketSearchSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "삼성전자", r.URL.Query().Get("name"))
		w.Write([]byte(`{"symbols":[{"code":"005930","name":"삼성전자","market":"KOSPI"}]}`))
	}))
	defer srv.Close()

	m := NewHTTPMarket(config.MarketBackendConfig{URL: srv.URL, TimeoutMS: 1000})
	syms, err := m.SearchSymbols(context.Background(), "삼성전자")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "005930", syms[0].Code)
}

func TestClassifyLMErr(t *testing.T) {
	assert.ErrorIs(t, classifyLMErr(context.DeadlineExceeded), errkind.ErrTimeout)
	assert.ErrorIs(t, classifyLMErr(assertErr("429 too many requests")), errkind.ErrOverload)
	assert.ErrorIs(t, classifyLMErr(assertErr("connection refused")), errkind.ErrBackendUnavailable)
	assert.ErrorIs(t, classifyLMErr(assertErr("500 internal")), errkind.ErrUpstream)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestGraphTimeNormalization(t *testing.T) {
	assert.Equal(t, 2026, toTime("2026-08-01").Year())
	assert.Equal(t, 2026, toTime("2026-08-01T12:00:00Z").Year())
	assert.True(t, toTime("garbage").IsZero())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), toTime(int64(1700000000)))
}

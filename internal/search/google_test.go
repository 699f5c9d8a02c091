package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alvmarrod/lead-weaver/internal/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T, handler http.HandlerFunc, maxResults int) *Google {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGoogle(Config{
		APIKey:     "key",
		CX:         "cx",
		Endpoint:   srv.URL,
		MaxResults: maxResults,
	}, fetch.NewStaticFetcher(fetch.StaticConfig{Timeout: 2 * time.Second}))
	require.NoError(t, err)
	return g
}

func items(links ...string) map[string]any {
	list := make([]map[string]string, 0, len(links))
	for _, l := range links {
		list = append(list, map[string]string{"link": l})
	}
	return map[string]any{"items": list}
}

func TestSearchReturnsFilteredLinks(t *testing.T) {
	t.Parallel()
	var query atomic.Value

	g := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		query.Store(map[string][]string(r.URL.Query()))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(items(
			"https://panaderiasol.es/",
			"https://www.google.es/maps/place/x",
			"https://panaderiasol.es/",
			"https://hornoluna.es/contacto",
			"https://obrador.es/",
		))
	}, 2)

	urls, err := g.Search(context.Background(), "panadería", "Andalucía")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://panaderiasol.es/", "https://hornoluna.es/contacto"}, urls)

	got := query.Load().(map[string][]string)
	assert.Equal(t, []string{"panadería Andalucía contacto site:.es"}, got["q"])
	assert.Equal(t, []string{"key"}, got["key"])
	assert.Equal(t, []string{"cx"}, got["cx"])
	assert.Equal(t, []string{"10"}, got["num"])
}

func TestSearchQuotaRejected(t *testing.T) {
	t.Parallel()
	g := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}, 5)

	urls, err := g.Search(context.Background(), "panadería", "Madrid")
	assert.ErrorIs(t, err, ErrQuotaRejected)
	assert.Empty(t, urls)
}

func TestSearchBadResponses(t *testing.T) {
	t.Parallel()

	g := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, 5)
	_, err := g.Search(context.Background(), "a", "b")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrQuotaRejected)

	g = newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}, 5)
	_, err = g.Search(context.Background(), "a", "b")
	assert.Error(t, err)
}

func TestSearchNoItems(t *testing.T) {
	t.Parallel()
	g := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"searchInformation":{"totalResults":"0"}}`))
	}, 5)

	urls, err := g.Search(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestQueryTemplate(t *testing.T) {
	t.Parallel()
	g, err := NewGoogle(Config{APIKey: "k", CX: "c", QueryTemplate: "{keyword} en {region}"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "fontanero en Zaragoza", g.Query("fontanero", "Zaragoza"))
}

func TestNewGoogleRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewGoogle(Config{CX: "c"}, nil)
	assert.Error(t, err)
	_, err = NewGoogle(Config{APIKey: "k"}, nil)
	assert.Error(t, err)
}

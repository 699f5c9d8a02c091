package classify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alvmarrod/lead-weaver/internal/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProber struct {
	page  *fetch.Page
	calls int
	panic bool
}

func (s *stubProber) Fetch(_ context.Context, rawURL string) *fetch.Page {
	s.calls++
	if s.panic {
		panic("boom")
	}
	p := *s.page
	p.URL = rawURL
	return &p
}

func okPage(html string) *stubProber {
	return &stubProber{page: &fetch.Page{Status: 200, HTML: html}}
}

func classify(t *testing.T, prober *stubProber, rawURL string) Verdict {
	t.Helper()
	return New(Config{}, prober).Classify(context.Background(), rawURL)
}

func TestClassifyKnownDomainSkipsProbe(t *testing.T) {
	t.Parallel()
	prober := okPage("<html></html>")

	v := classify(t, prober, "https://www.einforma.com/informacion-empresa/x")

	assert.True(t, v.Dynamic)
	assert.Nil(t, v.Probe)
	assert.Zero(t, prober.calls)
}

func TestClassifyProbeFailures(t *testing.T) {
	t.Parallel()

	v := classify(t, &stubProber{page: &fetch.Page{Err: errors.New("timeout")}}, "https://a.es/")
	assert.True(t, v.Dynamic)
	assert.Equal(t, "probe failed", v.Reason)

	v = classify(t, &stubProber{page: &fetch.Page{Status: 403}}, "https://a.es/")
	assert.True(t, v.Dynamic)
	assert.Equal(t, "probe status 403", v.Reason)
}

func TestClassifyProbePanic(t *testing.T) {
	t.Parallel()

	v := classify(t, &stubProber{panic: true}, "https://a.es/")
	assert.True(t, v.Dynamic)
	assert.Contains(t, v.Reason, "panic")
}

func TestClassifyScriptSignature(t *testing.T) {
	t.Parallel()

	v := classify(t, okPage(`<html><body><div id="app" data-v-app></div>info@a.es</body></html>`), "https://a.es/")
	assert.True(t, v.Dynamic)
	assert.Contains(t, v.Reason, "data-v-app")
}

func TestClassifyProtectedContacts(t *testing.T) {
	t.Parallel()

	v := classify(t, okPage(`<html><body><span data-tel="NjY2MTEyMjMz">Ver teléfono</span></body></html>`), "https://a.es/")
	assert.True(t, v.Dynamic)
	assert.Equal(t, "protected contact elements", v.Reason)
}

func TestClassifyLargePageWithoutContacts(t *testing.T) {
	t.Parallel()

	html := "<html><body><p>" + strings.Repeat("pan artesano ", 1000) + "</p></body></html>"
	v := classify(t, okPage(html), "https://a.es/")
	assert.True(t, v.Dynamic)
	assert.Equal(t, "large page without visible contacts", v.Reason)
}

func TestClassifyContactPageWithoutContacts(t *testing.T) {
	t.Parallel()

	v := classify(t, okPage(`<html><body><form></form></body></html>`), "https://a.es/contacto")
	assert.True(t, v.Dynamic)
	assert.Equal(t, "contact page without visible contacts", v.Reason)

	v = classify(t, okPage(`<html><head><title>Contacta con nosotros</title></head><body></body></html>`), "https://a.es/")
	assert.True(t, v.Dynamic)
}

func TestClassifyStatic(t *testing.T) {
	t.Parallel()

	prober := okPage(`<html><head><title>Panadería Sol | Inicio</title></head>
<body><a href="mailto:hola@panaderiasol.es">hola@panaderiasol.es</a> 666 11 22 33</body></html>`)
	v := classify(t, prober, "https://panaderiasol.es/contacto")

	assert.False(t, v.Dynamic)
	require.NotNil(t, v.Probe)
	assert.Equal(t, "https://panaderiasol.es/contacto", v.Probe.URL)
	assert.Equal(t, 1, prober.calls)
}

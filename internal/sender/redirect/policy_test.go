package redirect

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

func TestIsRedirectNeeded(t *testing.T) {
	for status := 100; status < 600; status++ {
		want := status == 301 || status == 302 || status == 303 || status == 307 || status == 308
		assert.Equal(t, want, IsRedirectNeeded(status), "status %d", status)
	}
}

func TestIsRequestRewriteNeeded(t *testing.T) {
	tests := []struct {
		status int
		method string
		want   bool
	}{
		{301, "POST", true},
		{302, "post", true},
		{301, "PUT", false},
		{302, "GET", false},
		{303, "PUT", true},
		{303, "DELETE", true},
		{303, "GET", false},
		{303, "head", false},
		{307, "POST", false},
		{308, "POST", false},
		{200, "POST", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRequestRewriteNeeded(tt.status, tt.method), "%d %s", tt.status, tt.method)
	}
}

func TestRewriteToGet(t *testing.T) {
	ex, err := message.New("POST", "http://example.com/form", []byte("a=1"))
	require.NoError(t, err)
	ex.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	ex.Request.Header.Set("X-Keep", "yes")

	RewriteToGet(ex)

	assert.Equal(t, http.MethodGet, ex.Request.Method)
	assert.Empty(t, ex.Request.Header.Get("Content-Type"))
	assert.Empty(t, ex.Request.Header.Get("Content-Length"))
	assert.Empty(t, ex.Request.Body)
	assert.Equal(t, "yes", ex.Request.Header.Get("X-Keep"))
}

func TestResolveLocation(t *testing.T) {
	base, err := url.Parse("http://example.com/dir/page?q=1")
	require.NoError(t, err)

	tests := []struct {
		name     string
		location string
		want     string
	}{
		{"absolute", "https://other.org/x", "https://other.org/x"},
		{"root relative", "/login", "http://example.com/login"},
		{"path relative", "next", "http://example.com/dir/next"},
		{"query only", "?page=2", "http://example.com/dir/page?page=2"},
		{"encoded", "/a%20b", "http://example.com/a%20b"},
		{"lenient space", "/a b", "http://example.com/a%20b"},
		{"lenient bad escape", "/100%", "http://example.com/100%25"},
		{"lenient non ascii", "/café", "http://example.com/caf%C3%A9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			h.Set("Location", tt.location)

			got, err := ResolveLocation(base, h)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestResolveLocationAbsent(t *testing.T) {
	base, _ := url.Parse("http://example.com/")

	got, err := ResolveLocation(base, http.Header{})
	assert.NoError(t, err)
	assert.Nil(t, got)

	h := http.Header{}
	h.Set("Location", "   ")
	got, err = ResolveLocation(base, h)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolveLocationInvalid(t *testing.T) {
	base, _ := url.Parse("http://example.com/")

	for _, raw := range []string{"http://example.com:abc/", "http://[::1"} {
		t.Run(raw, func(t *testing.T) {
			h := http.Header{}
			h.Set("Location", raw)

			got, err := ResolveLocation(base, h)
			assert.Nil(t, got)

			var invalid *InvalidLocationError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, raw, invalid.Raw)
			assert.Contains(t, err.Error(), raw)
		})
	}
}

func TestLocationOf(t *testing.T) {
	ex, err := message.New("GET", "http://example.com/a/b", nil)
	require.NoError(t, err)
	ex.Response = message.NewResponse(302)
	ex.Response.Header.Set("Location", "../c")

	got, err := LocationOf(ex)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/c", got.String())
}

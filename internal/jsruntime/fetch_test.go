package jsruntime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchRejectsHostNotOnAllowList(t *testing.T) {
	res := Run(Request{
		Source:       `function main(input) { return fetch("https://evil.example/data"); }`,
		InputSchema:  `{}`,
		OutputSchema: `{}`,
		Input:        `{}`,
		Fetch:        FetchConfig{AllowedHosts: []string{"example.com"}, Timeout: time.Second},
	})
	require.NotNil(t, res.Err)
	assert.Equal(t, "JsRuntime.TypedJs", res.Err.Kind)
}

func TestFetchAllowedHostSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pong":true}`))
	}))
	defer srv.Close()

	host := srv.Listener.Addr().String()
	res := Run(Request{
		Source: `function main(input, ctx) {
			var r = fetch("http://` + host + `/");
			if (!r.ok) { throw new NetworkError("bad status"); }
			return r.json();
		}`,
		InputSchema:  `{}`,
		OutputSchema: `{}`,
		Input:        `{}`,
		Fetch:        FetchConfig{AllowedHosts: []string{splitHost(host)}, Timeout: 2 * time.Second},
	})
	require.Nil(t, res.Err)
	assert.JSONEq(t, `{"pong":true}`, res.Output)
}

func splitHost(hostport string) string {
	for i := len(hostport) - 1; i >= 0; i-- {
		if hostport[i] == ':' {
			return hostport[:i]
		}
	}
	return hostport
}

package jsruntime

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/ratchetdata/ratchet/internal/rerr"
)

// HTTPRecord captures one fetch call for later replay/testing when a
// RecordingSink is attached (§4.8 "Recording"). The buffer format is out
// of core scope (spec.md §1) — RecordingSink is the seam a collaborator
// plugs into.
type HTTPRecord struct {
	Method      string
	URL         string
	RequestBody string
	Status      int
	Headers     http.Header
	Body        string
	Err         string
}

// RecordingSink receives HTTPRecords and task input/output when the
// worker's recording flag is set. Modeled as an explicit injected
// dependency rather than a process-wide global (§9 "Global recording
// state").
type RecordingSink interface {
	RecordHTTP(rec HTTPRecord)
}

// NopRecordingSink discards everything; the default when recording is
// disabled.
type NopRecordingSink struct{}

func (NopRecordingSink) RecordHTTP(HTTPRecord) {}

// FetchConfig configures the sandboxed HTTP client injected as the
// global fetch(). The JS runtime itself has no default network access;
// every outbound call passes through this host-controlled client.
type FetchConfig struct {
	AllowedHosts []string // empty means no host is reachable
	Timeout      time.Duration
	Recorder     RecordingSink
}

func (c FetchConfig) hostAllowed(host string) bool {
	if len(c.AllowedHosts) == 0 {
		return false
	}
	for _, h := range c.AllowedHosts {
		if h == "*" || strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// installFetch defines the global fetch(url, opts) function on vm. The
// returned value mimics the subset of the Fetch API response shape named
// in §4.8: {ok, status, headers, json(), text()}. Because each worker
// runs exactly one task at a time with no event loop driving Promises,
// fetch is synchronous under the hood — it still returns a thenable-free
// plain object, which is sufficient for the single-task-at-a-time
// execution model workers use (§4.2).
func installFetch(vm *goja.Runtime, cfg FetchConfig) {
	client := &http.Client{Timeout: cfg.Timeout}

	vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(throwTyped(vm, "DataError", "fetch requires a url argument", nil))
		}
		rawURL := call.Arguments[0].String()

		method := http.MethodGet
		var bodyStr string
		var headers http.Header = make(http.Header)
		if len(call.Arguments) > 1 && !goja.IsUndefined(call.Arguments[1]) && !goja.IsNull(call.Arguments[1]) {
			opts := call.Arguments[1].ToObject(vm)
			if m := opts.Get("method"); m != nil && !goja.IsUndefined(m) {
				method = strings.ToUpper(m.String())
			}
			if b := opts.Get("body"); b != nil && !goja.IsUndefined(b) {
				bodyStr = b.String()
			}
			if h := opts.Get("headers"); h != nil && !goja.IsUndefined(h) {
				ho := h.ToObject(vm)
				for _, k := range ho.Keys() {
					headers.Set(k, ho.Get(k).String())
				}
			}
		}

		rec := HTTPRecord{Method: method, URL: rawURL, RequestBody: bodyStr}
		resp, err := doFetch(client, cfg, method, rawURL, bodyStr, headers)
		if err != nil {
			rec.Err = err.Error()
			cfg.recorder().RecordHTTP(rec)
			panic(vm.ToValue(rerrToJS(vm, err)))
		}
		rec.Status = resp.status
		rec.Headers = resp.headers
		rec.Body = resp.body
		cfg.recorder().RecordHTTP(rec)

		return vm.ToValue(newFetchResponse(vm, resp))
	})
}

func (c FetchConfig) recorder() RecordingSink {
	if c.Recorder == nil {
		return NopRecordingSink{}
	}
	return c.Recorder
}

type fetchResult struct {
	status  int
	headers http.Header
	body    string
}

func doFetch(client *http.Client, cfg FetchConfig, method, rawURL, body string, headers http.Header) (*fetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, rerr.New(rerr.KindJSTyped, "invalid URL").WithData(map[string]any{"type": "DataError", "message": err.Error()})
	}
	if !cfg.hostAllowed(u.Hostname()) {
		return nil, rerr.New(rerr.KindJSTyped, "host not in allow-list").
			WithData(map[string]any{"type": "NetworkError", "message": fmt.Sprintf("host %q is not allow-listed", u.Hostname())})
	}

	req, err := http.NewRequest(method, rawURL, bytes.NewBufferString(body))
	if err != nil {
		return nil, rerr.New(rerr.KindJSTyped, err.Error()).WithData(map[string]any{"type": "DataError", "message": err.Error()})
	}
	req.Header = headers

	resp, err := client.Do(req)
	if err != nil {
		kind := "NetworkError"
		if isTimeout(err) {
			kind = "TimeoutError"
		}
		return nil, rerr.New(rerr.KindJSTyped, err.Error()).WithData(map[string]any{"type": kind, "message": err.Error()})
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, rerr.New(rerr.KindJSTyped, err.Error()).WithData(map[string]any{"type": "NetworkError", "message": err.Error()})
	}

	return &fetchResult{status: resp.StatusCode, headers: resp.Header, body: string(buf)}, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	for e := err; e != nil; {
		if tt, ok := e.(timeouter); ok {
			t = tt
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return t != nil && t.Timeout()
}

func newFetchResponse(vm *goja.Runtime, r *fetchResult) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("ok", r.status >= 200 && r.status < 300)
	_ = obj.Set("status", r.status)
	headers := make(map[string]string, len(r.headers))
	for k := range r.headers {
		headers[k] = r.headers.Get(k)
	}
	_ = obj.Set("headers", headers)
	_ = obj.Set("text", func(goja.FunctionCall) goja.Value { return vm.ToValue(r.body) })
	_ = obj.Set("json", func(goja.FunctionCall) goja.Value {
		v, err := vm.RunString("(" + r.body + ")")
		if err != nil {
			panic(throwTyped(vm, "DataError", "response body is not valid JSON", nil))
		}
		return v
	})
	return obj
}

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"sgrouter/pkg/scatter"
	"sgrouter/pkg/types"
)

const defaultTimeout = 3 * time.Second

// HTTPTransport sends scatter requests to hosts speaking the batch JSON protocol.
type HTTPTransport struct {
	client   *http.Client
	compress bool
	encoder  *zstd.Encoder
}

type Option func(*HTTPTransport)

// WithTimeout bounds every request; zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.client.Timeout = d
		}
	}
}

// WithCompression sends zstd request bodies and accepts zstd replies.
func WithCompression(on bool) Option {
	return func(t *HTTPTransport) { t.compress = on }
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTPTransport) { t.client = c }
}

func NewHTTPTransport(opts ...Option) (*HTTPTransport, error) {
	t := &HTTPTransport{client: &http.Client{Timeout: defaultTimeout}}
	for _, o := range opts {
		o(t)
	}
	if t.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		t.encoder = enc
	}
	return t, nil
}

// BaseURL turns a host as stored in the ring ("localhost:8081" or a full url) into a base url.
func BaseURL(host string) string {
	host = strings.TrimRight(host, "/")
	if strings.Contains(host, "://") {
		return host
	}
	return "http://" + host
}

// Send implements scatter.Transport.
func (t *HTTPTransport) Send(ctx context.Context, host string, req *scatter.Request) (*scatter.Response, error) {
	httpMethod, target, body, err := t.build(host, req)
	if err != nil {
		return nil, err
	}

	var rd io.Reader
	if body != nil {
		if t.compress {
			body = t.encoder.EncodeAll(body, make([]byte, 0, len(body)))
		}
		rd = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, httpMethod, target, rd)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", httpMethod, err)
	}
	t.setHeaders(httpReq, req, body != nil)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s do: %w", httpMethod, err)
	}
	defer resp.Body.Close()

	payload, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", httpMethod, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Host: host, Code: resp.StatusCode, Body: strings.TrimSpace(string(payload)), Method: httpMethod}
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", httpMethod, err)
	}
	return env.Response(), nil
}

// Close releases the compression encoder.
func (t *HTTPTransport) Close() error {
	if t.encoder != nil {
		return t.encoder.Close()
	}
	return nil
}

func (t *HTTPTransport) build(host string, req *scatter.Request) (string, string, []byte, error) {
	base := BaseURL(host) + "/" + strings.Trim(req.Resource, "/")
	q := req.Query()

	switch req.Method {
	case types.Get:
		return http.MethodGet, base + "/" + url.PathEscape(string(req.IDs[0])) + encodeQuery(q), nil, nil
	case types.BatchGet, types.BatchDelete:
		for _, id := range req.IDs {
			q.Add(ParamIDs, string(id))
		}
		m := http.MethodGet
		if req.Method == types.BatchDelete {
			m = http.MethodDelete
		}
		return m, base + encodeQuery(q), nil, nil
	case types.BatchUpdate, types.BatchPartialUpdate:
		for _, id := range req.IDs {
			q.Add(ParamIDs, string(id))
		}
		in := BatchBody{Inputs: make(map[string]json.RawMessage, len(req.Inputs))}
		for k, v := range req.Inputs {
			in.Inputs[string(k)] = v
		}
		body, err := json.Marshal(in)
		if err != nil {
			return "", "", nil, fmt.Errorf("encode body: %w", err)
		}
		m := http.MethodPut
		if req.Method == types.BatchPartialUpdate {
			m = http.MethodPatch
		}
		return m, base + encodeQuery(q), body, nil
	case types.Create, types.BatchCreate:
		body, err := json.Marshal(BatchBody{Entities: req.Entities})
		if err != nil {
			return "", "", nil, fmt.Errorf("encode body: %w", err)
		}
		return http.MethodPost, base + encodeQuery(q), body, nil
	}
	return "", "", nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, req.Method)
}

func (t *HTTPTransport) setHeaders(httpReq *http.Request, req *scatter.Request, hasBody bool) {
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	callID := req.Context.CallID
	if callID == "" {
		callID = uuid.NewString()
	}
	httpReq.Header.Set(HeaderRequestID, callID)
	httpReq.Header.Set(HeaderSubRequestID, uuid.NewString())
	if req.Context.TargetHost != "" {
		httpReq.Header.Set(HeaderTargetHost, req.Context.TargetHost)
	}
	httpReq.Header.Set("Accept", contentTypeJSON)
	if hasBody {
		httpReq.Header.Set("Content-Type", contentTypeJSON)
	}
	if t.compress {
		httpReq.Header.Set("Accept-Encoding", encodingZstd)
		if hasBody {
			httpReq.Header.Set("Content-Encoding", encodingZstd)
		}
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	if resp.Header.Get("Content-Encoding") != encodingZstd {
		return io.ReadAll(resp.Body)
	}
	dec, err := zstd.NewReader(resp.Body)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

func encodeQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

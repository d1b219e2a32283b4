package provider

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/soyeahso/playground/internal/logging"
	"github.com/soyeahso/playground/internal/version"
)

// Options configures an adapter.
type Options struct {
	// BaseURL overrides the provider's default endpoint.
	BaseURL string
	// Keys supplies the API key at request time.
	Keys KeySource
	// HTTPClient is the underlying client. Streams must not carry a client
	// timeout; cancellation goes through the request context.
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// httpBase is shared by the adapters that speak raw HTTP through resty.
type httpBase struct {
	spec    Spec
	baseURL string
	keys    KeySource
	client  *resty.Client
	log     *logging.Logger
}

func newHTTPBase(spec Spec, opts Options) httpBase {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	base := opts.BaseURL
	if base == "" {
		base = spec.DefaultBaseURL
	}
	log := opts.Logger
	if log == nil {
		log = logging.New(nil, "silent")
	}
	return httpBase{
		spec:    spec,
		baseURL: strings.TrimRight(base, "/"),
		keys:    opts.Keys,
		client:  resty.NewWithClient(hc).SetHeader("User-Agent", version.UserAgent()),
		log:     log.Sub(string(spec.ID)),
	}
}

func (b *httpBase) ID() ID                     { return b.spec.ID }
func (b *httpBase) Capabilities() Capabilities { return b.spec.Capabilities }

// apiKey resolves the key, failing with an auth error when one is required
// and missing.
func (b *httpBase) apiKey() (string, *Error) {
	var key string
	if b.keys != nil {
		k, err := b.keys.GetKey(b.spec.ID)
		if err != nil {
			return "", &Error{Provider: b.spec.ID, Kind: KindConfiguration, Message: "reading API key: " + err.Error(), Cause: err}
		}
		key = k
	}
	if key == "" && b.spec.RequiresKey {
		return "", &Error{Provider: b.spec.ID, Kind: KindAuth, Message: "missing API key"}
	}
	return key, nil
}

// openStream POSTs body and returns the raw response body for a 2xx reply.
// Non-2xx replies are read fully and classified by status.
func (b *httpBase) openStream(ctx context.Context, path string, headers, query map[string]string, body any) (io.ReadCloser, *Error) {
	r := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(headers).
		SetBody(body).
		SetDoNotParseResponse(true)
	if len(query) > 0 {
		r.SetQueryParams(query)
	}

	b.log.Debug().Str("path", path).Msg("opening stream")
	resp, err := r.Post(b.baseURL + path)
	if err != nil {
		if cancelled(ctx, err) {
			return nil, nil
		}
		return nil, transportError(b.spec.ID, err)
	}

	raw := resp.RawBody()
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		defer raw.Close()
		data, _ := io.ReadAll(io.LimitReader(raw, 64*1024))
		return nil, statusError(b.spec.ID, resp.StatusCode(), data)
	}
	return raw, nil
}

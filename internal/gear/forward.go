package gear

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/bbn/patchbay/internal/metrics"
	"github.com/bbn/patchbay/internal/urlguard"
)

// DefaultForwardTimeout bounds each fan-out POST.
const DefaultForwardTimeout = 15 * time.Second

// ForwardEnvelope is the wire shape pushed to downstream gears.
type ForwardEnvelope struct {
	SourceGear SourceRef `json:"source_gear"`
	MessageID  string    `json:"message_id"`
	Data       any       `json:"data"`
}

// Forwarder pushes a gear's output to its configured downstream URLs.
// Relative URLs resolve against Origin. Per-URL failures are logged and do
// not abort siblings; Forward never returns an error.
type Forwarder struct {
	Guard   *urlguard.Guard
	Client  *http.Client
	Origin  string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// NewForwarder builds a Forwarder with default client and timeout.
func NewForwarder(guard *urlguard.Guard, origin string, logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		Guard:   guard,
		Client:  &http.Client{},
		Origin:  origin,
		Timeout: DefaultForwardTimeout,
		Logger:  logger,
	}
}

// Forward POSTs {source_gear, message_id, data} to each URL. Each delivery
// gets a fresh message id and its own deadline.
func (f *Forwarder) Forward(ctx context.Context, source SourceRef, urls []string, output any) {
	for _, raw := range urls {
		if err := f.forwardOne(ctx, source, raw, output); err != nil {
			metrics.ForwardFailures.Inc()
			f.Logger.Warn().
				Str("gear_id", source.ID).
				Str("url", raw).
				Err(err).
				Msg("forward failed")
		}
	}
}

func (f *Forwarder) forwardOne(ctx context.Context, source SourceRef, raw string, output any) error {
	target, err := f.resolve(raw)
	if err != nil {
		return err
	}
	if _, err := f.Guard.ValidateHTTPURL(ctx, target); err != nil {
		return err
	}

	body, err := json.Marshal(ForwardEnvelope{
		SourceGear: source,
		MessageID:  ulid.Make().String(),
		Data:       output,
	})
	if err != nil {
		return err
	}

	callCtx, cancel := urlguard.WithTimeout(ctx, f.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &forwardStatusError{code: resp.StatusCode, url: target}
	}
	return nil
}

// resolve makes raw absolute, using Origin for relative URLs.
func (f *Forwarder) resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return raw, nil
	}
	base, err := url.Parse(f.Origin)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

func (f *Forwarder) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return DefaultForwardTimeout
}

type forwardStatusError struct {
	code int
	url  string
}

func (e *forwardStatusError) Error() string {
	return http.StatusText(e.code) + " from " + e.url
}

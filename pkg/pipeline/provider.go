package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/routecodex/routecodex/pkg/credential"
	"github.com/routecodex/routecodex/pkg/types"
)

// ProviderClient is stage 4: an HTTP client bound to a ProviderDef's
// baseURL, executing the translated payload against the upstream and
// exposing both buffered and streamed response reading, grounded on the
// teacher's pkg/providers/base.BaseProvider HTTP plumbing.
type ProviderClient struct {
	def        types.ProviderDef
	httpClient *http.Client
	creds      *credential.Store
	credID     string
}

// NewProviderClient builds stage 4 for one pipeline's provider+credential
// pairing. The timeout is the pipeline's absolute per-request budget,
// measured from the start of this stage (spec.md §4.5/§5).
func NewProviderClient(def types.ProviderDef, credID string, creds *credential.Store) *ProviderClient {
	timeout := time.Duration(def.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ProviderClient{
		def:        def,
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
		credID:     credID,
	}
}

// completionsPath is appended to baseURL for non-streaming and streaming
// requests alike; dialect-specific routing (chat/completions vs messages
// vs responses) is resolved by the pipeline's compatibility dialect, not
// hardcoded here, since a provider's baseURL already points at its vendor
// endpoint root.
const completionsPath = ""

// Send issues the translated request upstream and returns the
// *http.Response with its body left open, for both streaming and
// non-streaming calls; the stream flag does not change the request. The
// caller reads the body (ReadBuffered or StreamEvents) and is responsible
// for closing it.
func (p *ProviderClient) Send(ctx context.Context, payload []byte, stream bool) (*http.Response, error) {
	snap, err := p.creds.Get(p.credID)
	if err != nil {
		return nil, fmt.Errorf("provider %s: credential: %w", p.def.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.def.BaseURL+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("provider %s: build request: %w", p.def.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if snap.Secret() != "" {
		req.Header.Set("Authorization", "Bearer "+snap.Secret())
	}
	for k, v := range p.def.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s: request: %w", p.def.ID, err)
	}
	return resp, nil
}

// ReadBuffered fully reads and closes a non-streaming response.
func (p *ProviderClient) ReadBuffered(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// StreamEvents reads successive SSE event frames from resp.Body until EOF,
// ctx cancellation, or an error returned by onEvent, invoking onEvent for
// each frame it has read. It does not recognize a terminal marker itself;
// frames after one are still passed to onEvent. Stream chunks are forwarded in strict arrival
// order (spec.md §5).
func (p *ProviderClient) StreamEvents(ctx context.Context, resp *http.Response, onEvent func([]byte) error) error {
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var frame bytes.Buffer
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" {
			if frame.Len() > 0 {
				if err := onEvent(frame.Bytes()); err != nil {
					return err
				}
				frame.Reset()
			}
			continue
		}
		frame.WriteString(line)
		frame.WriteByte('\n')
	}
	if frame.Len() > 0 {
		if err := onEvent(frame.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

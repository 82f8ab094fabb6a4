package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/routecodex/routecodex/pkg/health"
	"github.com/routecodex/routecodex/pkg/types"
	"github.com/routecodex/routecodex/pkg/utils"
)

// preSSEHeartbeat is the window the runtime waits for the first upstream
// chunk before committing to SSE framing, so an immediate upstream error
// can still be reported as a single JSON error instead of a silent,
// already-started stream (spec.md §4.5).
const preSSEHeartbeat = 800 * time.Millisecond

// StreamSink receives chunks and framing events as the runtime decodes
// them, in strict arrival order (spec.md §5). OnChunk receives each
// decoded chunk, OnError a terminal error after streaming has begun, and
// OnDone normal completion.
type StreamSink interface {
	OnChunk(chunk types.ChatStreamChunk) error
	OnError(err error) error
	OnDone() error
}

// Runtime executes the 4-stage transformation chain for a single request
// against a selected Pipeline (spec.md §4.5).
type Runtime struct {
	health *health.Manager
}

// NewRuntime builds the pipeline runtime, wired to the shared health
// manager so upstream outcomes (rate limits, auth failures) are reported
// back to C3 (spec.md §4.5 "side effects").
func NewRuntime(h *health.Manager) *Runtime {
	return &Runtime{health: h}
}

// Execute runs the non-streaming path: llmSwitch → workflow → compatibility
// → provider → reverse-compatibility, returning the client-dialect
// response or a typed GatewayError.
func (rt *Runtime) Execute(ctx context.Context, pl *Pipeline, req types.ChatRequest) (types.ChatResponse, error) {
	transformed, credKey, err := rt.runPreStages(req, pl)
	if err != nil {
		pl.RecordAttempt(false)
		return types.ChatResponse{}, err
	}

	payload, err := pl.Compatibility.Encode(transformed)
	if err != nil {
		pl.RecordAttempt(false)
		return types.ChatResponse{}, types.NewGatewayError(types.CategoryInternal, fmt.Errorf("encode upstream request: %w", err))
	}

	resp, err := pl.Provider.Send(ctx, payload, false)
	if err != nil {
		pl.RecordAttempt(false)
		return types.ChatResponse{}, rt.classifyTransportError(credKey, err)
	}

	if resp.StatusCode != http.StatusOK {
		pl.RecordAttempt(false)
		return types.ChatResponse{}, rt.classifyHTTPError(credKey, resp)
	}

	body, err := pl.Provider.ReadBuffered(resp)
	if err != nil {
		pl.RecordAttempt(false)
		return types.ChatResponse{}, types.NewGatewayError(types.CategoryUpstream, fmt.Errorf("read upstream response: %w", err))
	}

	// Some upstreams report an error inside a 200 OK body instead of the
	// HTTP status, so classifyHTTPError's status-code switch never sees
	// it; scan for it here before attempting to decode as a response.
	if embErr := utils.CheckCommonErrors(string(body)); embErr != nil {
		pl.RecordAttempt(false)
		rt.health.RecordFailure(credKey)
		return types.ChatResponse{}, types.NewGatewayError(types.CategoryUpstream, embErr)
	}

	out, err := pl.Compatibility.Decode(body)
	if err != nil {
		pl.RecordAttempt(false)
		return types.ChatResponse{}, types.NewGatewayError(types.CategoryUpstream, fmt.Errorf("decode upstream response: %w", err))
	}

	pl.RecordAttempt(true)
	rt.health.RecordSuccess(credKey)
	return out, nil
}

// ExecuteStream runs the streaming path. It does not emit anything to sink
// until either the first upstream chunk arrives or preSSEHeartbeat elapses
// (spec.md §4.5): an error observed within the heartbeat window is returned
// directly so the caller can still respond with a single JSON error body;
// an error observed after SSE framing has begun is instead delivered via
// sink.OnError.
func (rt *Runtime) ExecuteStream(ctx context.Context, pl *Pipeline, req types.ChatRequest, sink StreamSink) error {
	transformed, credKey, err := rt.runPreStages(req, pl)
	if err != nil {
		pl.RecordAttempt(false)
		return err
	}
	transformed.Stream = true

	payload, err := pl.Compatibility.Encode(transformed)
	if err != nil {
		pl.RecordAttempt(false)
		return types.NewGatewayError(types.CategoryInternal, fmt.Errorf("encode upstream request: %w", err))
	}

	resp, err := pl.Provider.Send(ctx, payload, true)
	if err != nil {
		pl.RecordAttempt(false)
		return rt.classifyTransportError(credKey, err)
	}
	if resp.StatusCode != http.StatusOK {
		pl.RecordAttempt(false)
		return rt.classifyHTTPError(credKey, resp)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := false
	heartbeat := time.NewTimer(preSSEHeartbeat)
	defer heartbeat.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- pl.Provider.StreamEvents(streamCtx, resp, func(event []byte) error {
			chunk, ok, decodeErr := pl.Compatibility.DecodeStreamChunk(event)
			if decodeErr != nil {
				return decodeErr
			}
			if !ok {
				return nil
			}
			started = true
			if chunk.Done {
				return sink.OnDone()
			}
			return sink.OnChunk(chunk)
		})
	}()

	select {
	case <-heartbeat.C:
		// Heartbeat elapsed with no error and (possibly) no chunk yet;
		// SSE framing is considered committed from here on, so any later
		// error must go through sink.OnError rather than being returned.
	case streamErr := <-errCh:
		pl.RecordAttempt(streamErr == nil)
		if streamErr == nil {
			rt.health.RecordSuccess(credKey)
			return sink.OnDone()
		}
		if !started {
			return types.NewGatewayError(types.CategoryUpstream, streamErr)
		}
		return sink.OnError(streamErr)
	}

	streamErr := <-errCh
	pl.RecordAttempt(streamErr == nil)
	if streamErr != nil {
		rt.health.RecordFailure(credKey)
		return sink.OnError(streamErr)
	}
	rt.health.RecordSuccess(credKey)
	return nil
}

// runPreStages applies llmSwitch and workflow, in order, and returns the
// transformed request plus the credential key for health reporting.
func (rt *Runtime) runPreStages(req types.ChatRequest, pl *Pipeline) (types.ChatRequest, string, error) {
	credKey := health.CredentialKey(pl.Def.ProviderID, pl.Def.CredentialID)

	switched, _, err := pl.LLMSwitch.Apply(req)
	if err != nil {
		return types.ChatRequest{}, credKey, types.NewGatewayError(types.CategoryInternal, fmt.Errorf("llmSwitch: %w", err))
	}

	transformed, err := pl.Workflow.Apply(switched)
	if err != nil {
		if gwErr, ok := err.(*types.GatewayError); ok {
			return types.ChatRequest{}, credKey, gwErr
		}
		return types.ChatRequest{}, credKey, types.NewGatewayError(types.CategoryInternal, fmt.Errorf("workflow: %w", err))
	}

	return transformed, credKey, nil
}

// classifyHTTPError maps an upstream non-200 status into the error
// taxonomy of spec.md §7, reporting auth failures and rate-limit hits to
// the health manager as a side effect (spec.md §4.5).
func (rt *Runtime) classifyHTTPError(credKey string, resp *http.Response) error {
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		rt.health.Block(credKey, "upstream_auth_rejected", nil)
		return types.NewGatewayError(types.CategoryAuth, fmt.Errorf("upstream rejected credential (http %d)", resp.StatusCode))
	case http.StatusTooManyRequests:
		rt.health.RecordRateLimitHit(credKey)
		return types.NewGatewayError(types.CategoryRateLimit, fmt.Errorf("upstream rate limited (http 429)"))
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return types.NewGatewayError(types.CategoryTimeout, fmt.Errorf("upstream timed out (http %d)", resp.StatusCode))
	default:
		rt.health.RecordFailure(credKey)
		return types.NewGatewayError(types.CategoryUpstream, fmt.Errorf("upstream error (http %d)", resp.StatusCode))
	}
}

func (rt *Runtime) classifyTransportError(credKey string, err error) error {
	rt.health.RecordFailure(credKey)
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewGatewayError(types.CategoryTimeout, err)
	}
	return types.NewGatewayError(types.CategoryUpstream, err)
}

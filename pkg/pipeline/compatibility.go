package pipeline

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/routecodex/routecodex/pkg/protocol"
	"github.com/routecodex/routecodex/pkg/types"
)

// dialectCompatibility implements stage 3 by rendering the normalized
// request through a protocol.Translator for the upstream's wire dialect,
// then applying any field-level renames the pipeline config declares on
// top (spec.md §4.4: "minimal field-level trimming/renaming required by
// the specific upstream dialect"). Field renames are applied with gjson/
// sjson rather than a full re-marshal, since most vendor quirks are a
// single renamed or relocated key.
type dialectCompatibility struct {
	cfg        types.CompatibilityConfig
	translator protocol.Translator
}

// NewCompatibility builds stage 3 for a pipeline from its
// CompatibilityConfig and the shared dialect registry.
func NewCompatibility(cfg types.CompatibilityConfig, registry *protocol.Registry) (Compatibility, error) {
	t, ok := registry.Get(cfg.Dialect)
	if !ok {
		return nil, fmt.Errorf("compatibility: unknown dialect %q", cfg.Dialect)
	}
	return &dialectCompatibility{cfg: cfg, translator: t}, nil
}

func (c *dialectCompatibility) Encode(req types.ChatRequest) ([]byte, error) {
	body, err := c.translator.RenderRequest(req)
	if err != nil {
		return nil, err
	}
	return applyFieldRenames(body, c.cfg.FieldRename)
}

func (c *dialectCompatibility) Decode(body []byte) (types.ChatResponse, error) {
	restored, err := reverseFieldRenames(body, c.cfg.FieldRename)
	if err != nil {
		return types.ChatResponse{}, err
	}
	return c.translator.ParseResponse(restored)
}

func (c *dialectCompatibility) DecodeStreamChunk(event []byte) (types.ChatStreamChunk, bool, error) {
	return c.translator.ParseStreamChunk(event)
}

// applyFieldRenames renames top-level JSON keys per the pipeline's
// fieldRename map (oldName -> newName) before the payload goes upstream.
func applyFieldRenames(body []byte, renames map[string]string) ([]byte, error) {
	if len(renames) == 0 {
		return body, nil
	}
	out := string(body)
	for from, to := range renames {
		val := gjson.Get(out, from)
		if !val.Exists() {
			continue
		}
		var err error
		out, err = sjson.Set(out, to, val.Value())
		if err != nil {
			return nil, fmt.Errorf("compatibility: rename %s->%s: %w", from, to, err)
		}
		out, err = sjson.Delete(out, from)
		if err != nil {
			return nil, fmt.Errorf("compatibility: delete renamed field %s: %w", from, err)
		}
	}
	return []byte(out), nil
}

// reverseFieldRenames undoes applyFieldRenames on the way back, so the
// response can be decoded by the translator that expects the original
// field names (spec.md §4.5 stage 3: "bijective enough to reverse the
// response").
func reverseFieldRenames(body []byte, renames map[string]string) ([]byte, error) {
	if len(renames) == 0 {
		return body, nil
	}
	out := string(body)
	for from, to := range renames {
		val := gjson.Get(out, to)
		if !val.Exists() {
			continue
		}
		var err error
		out, err = sjson.Set(out, from, val.Value())
		if err != nil {
			return nil, fmt.Errorf("compatibility: reverse rename %s->%s: %w", to, from, err)
		}
		out, err = sjson.Delete(out, to)
		if err != nil {
			return nil, fmt.Errorf("compatibility: delete renamed field %s: %w", to, err)
		}
	}
	return []byte(out), nil
}

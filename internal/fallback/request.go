package fallback

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/shopsense/shopsense/pkg/errors"
)

// Request describes a unit of externally-sourced work: an API answer keyed by
// kind and parameters, or an LLM completion keyed by its prompt. Requests are
// immutable once submitted.
type Request struct {
	// ID correlates lifecycle events; assigned by the orchestrator if empty.
	ID string `json:"id,omitempty"`

	// Kind names the operation, e.g. "orders.get" or "assistant.answer".
	Kind string `json:"kind"`

	// Params are normalized into the cache key in sorted order.
	Params map[string]string `json:"params,omitempty"`

	// Prompt carries free-form input for completion-style requests.
	Prompt string `json:"prompt,omitempty"`

	// Tags and DependsOn are attached to the cached result for
	// invalidation.
	Tags      []string `json:"tags,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// CacheKey derives the canonical cache key from the request identity. A
// request with neither a kind nor a prompt is malformed and fails fast.
func (r *Request) CacheKey() (string, error) {
	if r.Kind == "" && r.Prompt == "" {
		return "", errors.NewValidationError("request requires a kind or a prompt")
	}

	var b strings.Builder
	b.WriteString(r.Kind)
	b.WriteByte('\n')

	if len(r.Params) > 0 {
		keys := make([]string, 0, len(r.Params))
		for k := range r.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s=%s\n", k, r.Params[k])
		}
	}

	if r.Prompt != "" {
		b.WriteString(r.Prompt)
	}

	sum := sha256.Sum256([]byte(b.String()))
	if r.Kind != "" {
		return fmt.Sprintf("%s:%s", r.Kind, hex.EncodeToString(sum[:16])), nil
	}
	return hex.EncodeToString(sum[:16]), nil
}

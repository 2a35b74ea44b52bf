package fallback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsense/shopsense/pkg/errors"
)

func TestRequest_CacheKeyDeterministic(t *testing.T) {
	a := &Request{Kind: "orders.get", Params: map[string]string{"id": "42", "region": "eu"}}
	b := &Request{Kind: "orders.get", Params: map[string]string{"region": "eu", "id": "42"}}

	keyA, err := a.CacheKey()
	require.NoError(t, err)
	keyB, err := b.CacheKey()
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
	assert.True(t, strings.HasPrefix(keyA, "orders.get:"))
}

func TestRequest_CacheKeyDistinguishesParams(t *testing.T) {
	a := &Request{Kind: "orders.get", Params: map[string]string{"id": "1"}}
	b := &Request{Kind: "orders.get", Params: map[string]string{"id": "2"}}

	keyA, _ := a.CacheKey()
	keyB, _ := b.CacheKey()
	assert.NotEqual(t, keyA, keyB)
}

func TestRequest_CacheKeyPromptOnly(t *testing.T) {
	r := &Request{Prompt: "summarize my sales"}

	key, err := r.CacheKey()
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.NotContains(t, key, ":")
}

func TestRequest_CacheKeyMalformed(t *testing.T) {
	r := &Request{Params: map[string]string{"id": "1"}}

	_, err := r.CacheKey()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

package salvage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderArgs struct {
	Item  string  `json:"item"`
	Count float64 `json:"count"`
}

func (o orderArgs) Validate() error {
	if o.Count < 1 {
		return errors.New("count must be at least 1")
	}
	return nil
}

func TestExtractor_ParseAndValidate(t *testing.T) {
	ext, err := NewExtractor[orderArgs](false)
	require.NoError(t, err)

	args, err := ext.ParseAndValidate([]byte(`{"item":"tea","count":2}`))
	require.NoError(t, err)
	assert.Equal(t, orderArgs{Item: "tea", Count: 2}, args)
}

func TestExtractor_ParseErrors(t *testing.T) {
	ext, err := NewExtractor[orderArgs](false)
	require.NoError(t, err)

	_, err = ext.ParseAndValidate([]byte(`{item: 'tea'}`))
	require.Error(t, err)
	assert.True(t, IsClientError(err)) // strict path never repairs

	_, err = ext.ParseAndValidate([]byte(`{"item":"tea","count":"two"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestExtractor_Layer2Validation(t *testing.T) {
	ext, err := NewExtractor[orderArgs](false)
	require.NoError(t, err)

	_, err = ext.ParseAndValidate([]byte(`{"item":"tea","count":0}`))
	require.Error(t, err)
	assert.True(t, IsClientError(err))
	assert.Contains(t, err.Error(), "count must be at least 1")
}

func TestExtractor_Schema(t *testing.T) {
	ext, err := NewExtractor[orderArgs](false)
	require.NoError(t, err)
	doc := ext.Schema()
	props := schemaProps(doc)
	assert.Contains(t, props, "item")
	assert.Contains(t, props, "count")
}

func TestExtractor_Recover(t *testing.T) {
	ext, err := NewExtractor[orderArgs](false)
	require.NoError(t, err)

	args, out, err := ext.Recover("```json\n{item: 'tea', count: '2',}\n```")
	require.NoError(t, err)
	assert.Equal(t, MethodTypeFix, out.Method)
	assert.Equal(t, orderArgs{Item: "tea", Count: 2}, args)
}

func TestExtractor_RecoverExhausted(t *testing.T) {
	ext, err := NewExtractor[orderArgs](false)
	require.NoError(t, err)

	_, out, err := ext.Recover("no structure here", WithFallbacks(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, ErrUnparsable)
	assert.False(t, out.Success)
}

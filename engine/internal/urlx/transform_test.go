package urlx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransformPlain(t *testing.T) {
	r, err := ParseTransform("staging.host.test -> host.test")
	require.NoError(t, err)
	assert.Equal(t, "http://host.test/a", r.Apply("http://staging.host.test/a"))
}

func TestParseTransformRegex(t *testing.T) {
	r, err := ParseTransform(`/\?v=\d+/ -> `)
	require.NoError(t, err)
	assert.Equal(t, "http://h.test/s.css", r.Apply("http://h.test/s.css?v=123"))
}

func TestParseTransformErrors(t *testing.T) {
	_, err := ParseTransform("no arrow here")
	assert.Error(t, err)
	_, err = ParseTransform(" -> x")
	assert.Error(t, err)
	_, err = ParseTransform(`/(/ -> x`)
	assert.Error(t, err)
}

func TestApplyTransformsOrder(t *testing.T) {
	r1, _ := ParseTransform("a -> b")
	r2, _ := ParseTransform("b -> c")
	assert.Equal(t, "http://c.test/", ApplyTransforms("http://a.test/", []TransformRule{r1, r2}))
}

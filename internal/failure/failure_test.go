package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("resolve search input: %w", New(ElementNotFound, "no search box", cause))

	assert.Equal(t, ElementNotFound, KindOf(err))
	assert.True(t, Is(err, ElementNotFound))
	assert.False(t, Is(err, PriceNotFound))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "no search box", MessageOf(err))
}

func TestKindOfUntyped(t *testing.T) {
	assert.Equal(t, Unclassified, KindOf(errors.New("plain")))
	assert.Equal(t, Unclassified, KindOf(nil))
	assert.Equal(t, "plain", MessageOf(errors.New("plain")))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "price_not_found: no price", Newf(PriceNotFound, "no %s", "price").Error())
	assert.Equal(t, "unclassified: x: y", New(Unclassified, "x", errors.New("y")).Error())
}

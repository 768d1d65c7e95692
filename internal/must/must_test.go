package must

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBef(t *testing.T) {
	assert.Panics(t, func() {
		Bef(false, "should hold")
	})

	assert.NotPanics(t, func() {
		Bef(true, "should hold")
	})
}

func TestBeEqualf(t *testing.T) {
	assert.Panics(t, func() {
		BeEqualf(1, 2, "1 != 2")
	})

	assert.NotPanics(t, func() {
		BeEqualf(1, 1, "1 == 1")
	})
}

func TestNotBeNilf(t *testing.T) {
	assert.Panics(t, func() {
		NotBeNilf(nil, "nil")
	})

	assert.NotPanics(t, func() {
		NotBeNilf(0, "not nil")
	})
}

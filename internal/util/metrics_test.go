package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorReason(t *testing.T) {
	assert.Equal(t, "internal", ErrorReason(""))
	assert.Equal(t, "GATEWAY_ERROR", ErrorReason("GATEWAY_ERROR"))
}

package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptySourceTriggerIsNoOp(t *testing.T) {
	var s Source = EmptySource{}
	assert.NoError(t, s.Trigger(NopReporter{}))
}

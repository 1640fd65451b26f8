package worldtreeerr_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/worldtree-labs/world-tree/worldtreeerr"
)

func TestClassifyWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("applying batch: %w", worldtreeerr.ErrRootMismatch)

	assert.Equal(t, worldtreeerr.KindRootMismatch, worldtreeerr.Classify(wrapped))
	assert.False(t, worldtreeerr.KindRootMismatch.Restartable())
}

func TestClassifyUnknownErrorIsMiddleware(t *testing.T) {
	assert.Equal(t, worldtreeerr.KindMiddleware, worldtreeerr.Classify(fmt.Errorf("boom")))
	assert.True(t, worldtreeerr.KindMiddleware.Restartable())
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, worldtreeerr.KindUnknown, worldtreeerr.Classify(nil))
}

package errs_test

import (
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/argus-labs/arena/pkg/errs"
)

func TestKind(t *testing.T) {
	t.Parallel()

	insufficient := fmt.Errorf("%w: need at least 2 players", errs.ErrValidationFailed)
	wrapped := eris.Wrap(insufficient, "failed to start match")

	assert.Equal(t, errs.ErrValidationFailed, errs.Kind(wrapped))
	assert.Equal(t, errs.ErrNotFound, errs.Kind(eris.Wrapf(errs.ErrNotFound, "lobby %s", "ABC123")))
	assert.Nil(t, errs.Kind(eris.New("boom")))
	assert.Nil(t, errs.Kind(nil))
}

package trust

import (
	"testing"

	"github.com/charmbracelet/huh"
	"github.com/stretchr/testify/assert"
)

func TestConsentOptionsOmitBoardScopeWithoutBoard(t *testing.T) {
	t.Parallel()

	values := func(opts []huh.Option[string]) []string {
		out := make([]string, len(opts))
		for i, opt := range opts {
			out[i] = opt.Value
		}
		return out
	}

	assert.Equal(t,
		[]string{"deny", string(ScopeOnce), string(ScopeBoard), string(ScopePackage)},
		values(consentOptions("board-1")))
	assert.Equal(t,
		[]string{"deny", string(ScopeOnce), string(ScopePackage)},
		values(consentOptions("")))
}

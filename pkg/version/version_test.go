package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFull_HasAppNameCommitShape(t *testing.T) {
	full := Full()
	assert.True(t, strings.HasPrefix(full, AppName+"/"), "expected %q to start with %q", full, AppName+"/")

	commit := strings.TrimPrefix(full, AppName+"/")
	assert.NotEmpty(t, commit)
	assert.LessOrEqual(t, len(commit), 8)
}

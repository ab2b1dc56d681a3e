package version

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sidkik/mirrord/pkg/version"
)

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	stdout = &out
	defer func() { stdout = os.Stdout }()

	version.Version = "v1.2.3"
	defer func() { version.Version = version.EmptyValue }()

	cmd := New()
	cmd.SetArgs([]string{})
	assert.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "mirrord version: v1.2.3\n")
}

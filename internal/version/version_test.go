package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentDefaults(t *testing.T) {
	b := Current()
	assert.Equal(t, GetVersion(), b.Version)
	assert.NotEmpty(t, b.Commit)
	assert.NotEmpty(t, b.Date)
}

func TestBuildString(t *testing.T) {
	b := Build{Version: "v1.4.0", Commit: "9f2c1ab", Date: "2026-03-01"}
	assert.Equal(t, "v1.4.0 (commit 9f2c1ab, built 2026-03-01)", b.String())
}

func TestStringUsesLinkedValues(t *testing.T) {
	origVersion, origCommit, origDate := version, commit, date
	t.Cleanup(func() { version, commit, date = origVersion, origCommit, origDate })

	version, commit, date = "v2.0.0", "abc123", "2026-10-01"

	assert.Equal(t, "v2.0.0 (commit abc123, built 2026-10-01)", String())
	assert.Equal(t, "v2.0.0", GetVersion())
}

func TestFields(t *testing.T) {
	fields := Fields()
	b := Current()
	assert.Equal(t, b.Version, fields["version"])
	assert.Equal(t, b.Commit, fields["commit"])
	assert.Equal(t, b.Date, fields["date"])
}

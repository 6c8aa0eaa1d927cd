package falkor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptyAddrDisablesMirror(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestRecordCoEdits_NilMirrorIsSafe(t *testing.T) {
	var m *Mirror
	assert.NotPanics(t, func() {
		m.RecordCoEdits("demo_abc123", []string{"a.go", "b.go"})
	})
}

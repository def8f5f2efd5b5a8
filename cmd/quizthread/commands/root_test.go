package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"serve", "watch", "seed", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, Version+"\n", out.String())
}

func TestThreadCommandsRequireKey(t *testing.T) {
	for _, name := range []string{"watch", "seed"} {
		t.Run(name, func(t *testing.T) {
			root := NewRootCmd()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs([]string{name})
			assert.Error(t, root.Execute())
		})
	}
}

func TestSeedRejectsReportChance(t *testing.T) {
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"seed", "quiz-1", "--report-chance", "150"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report-chance")
}

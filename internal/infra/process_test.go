package infra

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessManager_IsRunning(t *testing.T) {
	pm := NewProcessManager()
	assert.True(t, pm.IsRunning(os.Getpid()))
}

func TestProcessManager_KillTree(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 30 & wait")
	require.NoError(t, cmd.Start())

	pm := NewProcessManager()
	require.True(t, pm.IsRunning(cmd.Process.Pid))

	require.NoError(t, pm.KillTree(cmd.Process.Pid))
	assert.Error(t, cmd.Wait(), "killed process must not exit cleanly")
}

func TestProcessManager_KillTreeExitedProcess(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 0")
	require.NoError(t, cmd.Run())

	pm := NewProcessManager()
	assert.NoError(t, pm.KillTree(cmd.Process.Pid))
}

package guard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, []string{"ably", "exit"}, p.AllowedCommands)
	assert.Equal(t, "/sandbox/bin", p.BinDir)
	assert.Equal(t, "/bin/bash", p.Shell)
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
allowed_commands:
  - ably
  - jq
  - exit
bin_dir: /opt/tools
shell: /bin/sh
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ably", "jq", "exit"}, p.AllowedCommands)
	assert.Equal(t, "/opt/tools", p.BinDir)
	assert.Equal(t, "/bin/sh", p.Shell)
}

func TestLoadPolicy_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("allowed_commands: [ably, curl, exit]\n"), 0644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ably", "curl", "exit"}, p.AllowedCommands)
	assert.Equal(t, DefaultBinDir, p.BinDir)
	assert.Equal(t, "/bin/bash", p.Shell)
}

func TestLoadPolicy_EmptyCommandsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("allowed_commands: []\n"), 0644))

	_, err := LoadPolicy(path)
	assert.Error(t, err)
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadPolicy_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("allowed_commands: [unclosed\n"), 0644))

	_, err := LoadPolicy(path)
	assert.Error(t, err)
}

func TestShellCommand_Restricted(t *testing.T) {
	cmd := DefaultPolicy().ShellCommand()

	require.NotEmpty(t, cmd)
	assert.Equal(t, "/bin/bash", cmd[0])
	assert.Contains(t, cmd, "--restricted")
	assert.Contains(t, cmd, "--noprofile")
	assert.Contains(t, cmd, "--norc")
}

func TestShellEnv_RestrictsPath(t *testing.T) {
	env := DefaultPolicy().ShellEnv(nil)

	assert.Contains(t, env, "PATH=/sandbox/bin")
	assert.Contains(t, env, "TERM=xterm-256color")
	assert.Contains(t, env, "PS1=$ ")
	assert.Contains(t, env, "HISTFILE=/dev/null")
}

func TestShellEnv_InjectsCredentials(t *testing.T) {
	scope := &Scope{APIKey: "app.keyId:keySecret", AccessToken: "tok-1"}
	env := DefaultPolicy().ShellEnv(scope)

	assert.Contains(t, env, "ABLY_API_KEY=app.keyId:keySecret")
	assert.Contains(t, env, "ABLY_ACCESS_TOKEN=tok-1")
}

func TestShellEnv_NoCredentialLeakWithoutScope(t *testing.T) {
	for _, v := range DefaultPolicy().ShellEnv(nil) {
		assert.NotContains(t, v, "ABLY_API_KEY")
		assert.NotContains(t, v, "ABLY_ACCESS_TOKEN")
	}
}

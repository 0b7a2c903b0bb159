package guard

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultBinDir is the directory inside the sandbox that holds the only
// executables a session may run. The sandbox image populates it with links
// to the allowed commands.
const DefaultBinDir = "/sandbox/bin"

// Policy restricts the command surface reachable inside a spawned shell.
// Enforcement happens server-side when the shell invocation is constructed:
// the shell runs restricted with PATH pointing at a directory containing only
// the allowed commands. Client-side enforcement is never trusted.
type Policy struct {
	// AllowedCommands is the whitelist of programs reachable from the shell.
	AllowedCommands []string `yaml:"allowed_commands"`
	// BinDir is the restricted PATH directory holding the allowed commands.
	BinDir string `yaml:"bin_dir"`
	// Shell is the shell binary started for each session.
	Shell string `yaml:"shell"`
}

// DefaultPolicy permits only the wrapped CLI and the shell builtin "exit".
func DefaultPolicy() *Policy {
	return &Policy{
		AllowedCommands: []string{"ably", "exit"},
		BinDir:          DefaultBinDir,
		Shell:           "/bin/bash",
	}
}

// LoadPolicy reads a policy from a YAML file. Fields left empty in the file
// keep their defaults.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if len(p.AllowedCommands) == 0 || p.BinDir == "" || p.Shell == "" {
		return nil, fmt.Errorf("policy file %s leaves required fields empty", path)
	}
	return p, nil
}

// ShellCommand returns the argv for a restricted interactive shell. The
// restricted mode prevents PATH reassignment, output redirection, and
// running commands by absolute path, so the PATH set in ShellEnv is the
// whole reachable surface.
func (p *Policy) ShellCommand() []string {
	return []string{p.Shell, "--restricted", "--noprofile", "--norc", "-i"}
}

// ShellEnv builds the environment for a session shell running under the
// given scope. Credentials are injected here so the wrapped CLI picks them
// up without any client-side configuration.
func (p *Policy) ShellEnv(scope *Scope) []string {
	env := []string{
		"PATH=" + p.BinDir,
		"TERM=xterm-256color",
		"PS1=$ ",
		"HISTFILE=/dev/null",
		"HOME=/home/sandbox",
	}
	if scope != nil {
		if scope.APIKey != "" {
			env = append(env, "ABLY_API_KEY="+scope.APIKey)
		}
		if scope.AccessToken != "" {
			env = append(env, "ABLY_ACCESS_TOKEN="+scope.AccessToken)
		}
	}
	return env
}

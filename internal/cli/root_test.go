package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "opflow", cmd.Use)
	assert.Contains(t, cmd.Long, "instruction programs")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"compile", "validate", "graph", "run", "trace", "replay", "schedule", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
	assert.Len(t, cmd.Commands(), len(commands))
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		command  string
		flag     string
		defValue string
	}{
		{"compile", "output", ""},
		{"compile", "program", ""},
		{"compile", "aggregate", "false"},
		{"compile", "max-vectors", "0"},
		{"validate", "aggregate", "false"},
		{"graph", "max-label", "30"},
		{"graph", "wrap", "50"},
		{"run", "db", ""},
		{"run", "inputs", ""},
		{"run", "times", "1"},
		{"run", "dynamic", "false"},
		{"trace", "db", ""},
		{"trace", "program", ""},
		{"trace", "run", ""},
		{"replay", "db", ""},
		{"replay", "program", ""},
		{"schedule", "program", ""},
		{"schedule", "reset", "false"},
		{"test", "update", "false"},
		{"test", "filter", ""},
	}

	root := NewRootCommand()
	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.flag, func(t *testing.T) {
			sub, _, err := root.Find([]string{tt.command})
			require.NoError(t, err)

			flag := sub.Flags().Lookup(tt.flag)
			require.NotNil(t, flag)
			assert.Equal(t, tt.defValue, flag.DefValue)
		})
	}
}

func TestFlagShorthands(t *testing.T) {
	root := NewRootCommand()

	compileCmd, _, err := root.Find([]string{"compile"})
	require.NoError(t, err)
	assert.Equal(t, "o", compileCmd.Flags().Lookup("output").Shorthand)
	assert.Equal(t, "p", compileCmd.Flags().Lookup("program").Shorthand)

	runCmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	assert.Equal(t, "p", runCmd.Flags().Lookup("program").Shorthand)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "compile", "."})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

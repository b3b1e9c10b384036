package pinctrl

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGetAllOutput(t *testing.T) {
	sample := `
 0: ip    pu | hi // ID_SDA/GPIO0 = input
 1: ip    pu | hi // ID_SCL/GPIO1 = input
 2: op dl pn | lo // GPIO2 = output
 3: op dh pn | hi // GPIO3 = output
 4: op dl pd | lo // GPIO4 = output
 5: no    pu | -- // GPIO5 = none
`

	states, err := parseGetOutput(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, states, 6)

	assert.Equal(t, PinState{Pin: 2, Mode: "op", Pull: "pn", Drive: "dl", Level: "lo", Comment: "GPIO2 = output"}, states[2])
	assert.Equal(t, "hi", states[3].Level)
	assert.Equal(t, "dh", states[3].Drive)
	assert.Equal(t, "pd", states[4].Pull)
	assert.Equal(t, "--", states[5].Level)
	assert.Equal(t, "no", states[5].Mode)
}

func TestParseLevelOutput(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"0", false},
		{"1", true},
		{"\n1\n", true},
		{"\n0\n", false},
	}
	for _, tc := range tests {
		result, err := parseLevelOutput(tc.input)
		require.NoError(t, err, "input %q", tc.input)
		assert.Equal(t, tc.expected, result, "input %q", tc.input)
	}

	_, err := parseLevelOutput("x")
	assert.Error(t, err)
}

func TestDriveIssuesSetCommand(t *testing.T) {
	var calls [][]string
	c := NewWithRunner(func(args ...string) ([]byte, error) {
		calls = append(calls, args)
		return nil, nil
	})

	require.NoError(t, c.Drive(3, true))
	require.NoError(t, c.Drive(4, false))

	assert.Equal(t, [][]string{
		{"set", "3", "op", "pn", "dh"},
		{"set", "4", "op", "pn", "dl"},
	}, calls)
}

func TestSetPinWrapsRunnerError(t *testing.T) {
	boom := errors.New("exit status 1")
	c := NewWithRunner(func(args ...string) ([]byte, error) {
		return []byte("permission denied\n"), boom
	})

	err := c.SetPin(2, "op")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestReadLevelAndReadPin(t *testing.T) {
	c := NewWithRunner(func(args ...string) ([]byte, error) {
		switch args[0] {
		case "lev":
			return []byte("1\n"), nil
		case "get":
			return []byte(" 2: op dh pn | hi // GPIO2 = output\n"), nil
		}
		return nil, errors.New("unexpected")
	})

	level, err := c.ReadLevel(2)
	require.NoError(t, err)
	assert.True(t, level)

	ps, err := c.ReadPin(2)
	require.NoError(t, err)
	assert.Equal(t, "dh", ps.Drive)

	_, err = c.ReadPin(9)
	assert.Error(t, err)
}

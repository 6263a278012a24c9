package common

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckFatal(t *testing.T) {
	var buf bytes.Buffer
	exitCode := -1
	out, exit := Log.Out, Log.ExitFunc
	Log.Out, Log.ExitFunc = &buf, func(code int) { exitCode = code }
	defer func() { Log.Out, Log.ExitFunc = out, exit }()

	CheckFatal(nil)
	require.Equal(t, -1, exitCode)
	require.Empty(t, buf.String())

	CheckFatal(errors.New("interfaces store unavailable"))
	require.Equal(t, 1, exitCode)
	require.Contains(t, buf.String(), "FATA: ")
	require.Contains(t, buf.String(), "interfaces store unavailable")
}

func TestCheckWarn(t *testing.T) {
	var buf bytes.Buffer
	out := Log.Out
	Log.Out = &buf
	defer func() { Log.Out = out }()

	CheckWarn(nil)
	require.Empty(t, buf.String())
	CheckWarn(errors.New("port gone"))
	require.Contains(t, buf.String(), "WARN: ")
}

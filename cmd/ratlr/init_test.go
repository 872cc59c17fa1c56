//go:build cgo

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ratlr/internal/embeddings"
)

func TestInitCmd_Registered(t *testing.T) {
	cmd, _, err := newRootCmd().Find([]string{"init"})
	require.NoError(t, err)
	assert.Equal(t, "init", cmd.Name())

	force := cmd.Flags().Lookup("force")
	require.NotNil(t, force)
	assert.Equal(t, "f", force.Shorthand)
	assert.Equal(t, embeddings.DefaultONNXRuntimeVersion, cmd.Flags().Lookup("onnx-version").DefValue)
}

func TestInitCmd_RuntimeAlreadyPresent(t *testing.T) {
	t.Setenv("ONNX_PATH", "/opt/onnx/libonnxruntime.so")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"init", "--dir", t.TempDir()})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "ONNX runtime found at /opt/onnx/libonnxruntime.so")
}

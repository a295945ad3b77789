package model_test

import (
	"testing"

	"github.com/strixlab/strix/internal/model"
	"github.com/stretchr/testify/require"
)

func TestJobStatusIsFinal(t *testing.T) {
	t.Parallel()
	require.False(t, model.StatusPending.IsFinal())
	require.False(t, model.StatusRunning.IsFinal())
	require.True(t, model.StatusReportedWithoutFails.IsFinal())
	require.True(t, model.StatusReportedWithFails.IsFinal())
	require.True(t, model.StatusFailed.IsFinal())
}

func TestTargetAttrs(t *testing.T) {
	t.Parallel()
	obs := model.ObservableTarget("example.com", "domain")
	attrs := obs.Attrs()
	require.Len(t, attrs, 2)
	require.Equal(t, "observable", attrs[0].Key)
	require.Equal(t, "example.com", attrs[0].Value.String())

	file := model.FileTarget("/tmp/sample.bin", "sample.bin", "d41d8cd98f00b204e9800998ecf8427e")
	attrs = file.Attrs()
	require.Len(t, attrs, 2)
	require.Equal(t, "filename", attrs[0].Key)

	var unknown model.Target
	require.Len(t, unknown.Attrs(), 1)
}

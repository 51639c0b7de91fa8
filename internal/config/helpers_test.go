package config

import (
	"os"
	"strings"
	"testing"

	logx "durasched/pkg/logx"

	"github.com/stretchr/testify/require"
)

func replaceOnce(s, old, new string) string {
	return strings.Replace(s, old, new, 1)
}

// renderFields logs fields to a file sink and returns what was written.
func renderFields(t *testing.T, path string, fields []logx.Field) string {
	t.Helper()
	svc, log := logx.New(logx.Config{Level: "info", File: logx.FileConfig{Enabled: true, Path: path}})
	log.Info("config changed", fields...)
	require.NoError(t, svc.Close())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o600))
	return p
}

func TestLoadWithOverlay(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.yaml", minimalYAML)

	overlayDir := filepath.Join(dir, "overlays.d")
	require.NoError(t, os.Mkdir(overlayDir, 0o700))
	writeFile(t, overlayDir, "humidity.yaml", `
points:
  - measurement: humidity
    topic: sensors/+/humidity
    fields:
      value: $.payload.value
`)

	c, err := Load(base, overlayDir)
	require.NoError(t, err)
	require.Len(t, c.Rules, 2)
}

func TestLoadMissingOverlayDirIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.yaml", minimalYAML)
	_, err := Load(base, filepath.Join(dir, "does-not-exist"))
	require.NoError(t, err)
}

func TestInterpolateEnvWithDefault(t *testing.T) {
	out, err := interpolateEnv([]byte(`token: ${MISSING_BRIDGE_TOKEN:fallback}`))
	require.NoError(t, err)
	require.Equal(t, "token: fallback", string(out))
}

func TestInterpolateEnvResolvesSetVariable(t *testing.T) {
	t.Setenv("BRIDGE_TEST_TOKEN", "secret-value")
	out, err := interpolateEnv([]byte(`token: ${BRIDGE_TEST_TOKEN}`))
	require.NoError(t, err)
	require.Equal(t, "token: secret-value", string(out))
}

func TestInterpolateEnvMissingWithoutDefaultIsFatal(t *testing.T) {
	_, err := interpolateEnv([]byte(`token: ${BRIDGE_TEST_TOKEN_UNSET}`))
	require.ErrorIs(t, err, ErrUnsetEnvVar)
}

func TestInterpolateEnvFallsBackToSecretFile(t *testing.T) {
	dir := t.TempDir()
	secretPath := writeFile(t, dir, "token", "file-secret")
	t.Setenv("BRIDGE_TEST_TOKEN_FILE", secretPath)
	out, err := interpolateEnv([]byte(`token: ${BRIDGE_TEST_TOKEN}`))
	require.NoError(t, err)
	require.Equal(t, "token: file-secret", string(out))
}

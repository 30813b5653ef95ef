package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvListen, EnvAudioDevice, EnvRecognizerBackend, EnvRecognizerEndpoint,
		EnvRecognizerAPIKey, EnvOpenAIAPIKey, EnvLogLevel,
	} {
		t.Setenv(key, "")
	}
}

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "livecap", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "livecap", "config.jsonc"), resolved)
}

func TestResolvePathFindsYAML(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := filepath.Join(xdg, "livecap")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("vad:\n  enabled: false\n"), 0o600))

	resolved, err := ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "config.yml"), resolved)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.jsonc"), []byte("{}"), 0o600))
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "config.jsonc"), resolved)
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  "server": {"listen": "127.0.0.1:3100"},
  "recognizer": {
    "backend": "whisper",
    "endpoint": "http://127.0.0.1:9000", // local whisper server
  },
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, "127.0.0.1:3100", loaded.Config.Server.Listen)
	require.Equal(t, "whisper", loaded.Config.Recognizer.Backend)
}

func TestLoadAppliesDotenvThenProcessEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recognizer:\n  backend: grpc\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"LIVECAP_RECOGNIZER_BACKEND=openai\nOPENAI_API_KEY=sk-dotenv\nLIVECAP_LISTEN=127.0.0.1:3200\n",
	), 0o600))
	t.Setenv(EnvListen, "127.0.0.1:3300")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "openai", loaded.Config.Recognizer.Backend)
	require.Equal(t, "sk-dotenv", loaded.Config.Recognizer.APIKey)
	require.Equal(t, "127.0.0.1:3300", loaded.Config.Server.Listen)
}

func TestLoadValidatesAfterEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvRecognizerBackend, "openai")

	_, err := Load(filepath.Join(t.TempDir(), "missing.jsonc"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "api_key")
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}

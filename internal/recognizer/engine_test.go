package recognizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSelectsBackend(t *testing.T) {
	engine, err := New(Config{})
	require.NoError(t, err)
	require.IsType(t, &GRPCEngine{}, engine)
	require.Equal(t, DefaultGRPCEndpoint, engine.(*GRPCEngine).cfg.Endpoint)
	require.NoError(t, engine.Close())

	engine, err = New(Config{Backend: " Whisper ", Endpoint: "http://127.0.0.1:8387"})
	require.NoError(t, err)
	require.IsType(t, &WhisperEngine{}, engine)

	engine, err = New(Config{Backend: BackendOpenAI, APIKey: "sk-test"})
	require.NoError(t, err)
	require.IsType(t, &OpenAIEngine{}, engine)

	_, err = New(Config{Backend: BackendOpenAI})
	require.Error(t, err)

	_, err = New(Config{Backend: "vosk"})
	require.ErrorContains(t, err, "unsupported recognizer backend")
}

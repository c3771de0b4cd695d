package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/errors"
)

func TestReadConfigFile(t *testing.T) {
	t.Run("accepts yaml", func(t *testing.T) {
		path := writeFile(t, "devlink.yml", "log:\n  level: debug\n")
		data, err := readConfigFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "debug")
	})

	t.Run("rejects other extensions", func(t *testing.T) {
		path := writeFile(t, "devlink.toml", "")
		_, err := readConfigFile(path)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("rejects directories", func(t *testing.T) {
		dir := t.TempDir() + "/layer.json"
		require.NoError(t, os.Mkdir(dir, 0o700))
		_, err := readConfigFile(dir)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("rejects oversized files", func(t *testing.T) {
		path := writeFile(t, "big.json", `{"pad":"`+strings.Repeat("x", maxConfigSize)+`"}`)
		_, err := readConfigFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readConfigFile(t.TempDir() + "/absent.json")
		require.Error(t, err)
		assert.False(t, errors.IsInvalid(err))
	})
}

func TestCheckNesting(t *testing.T) {
	deep := strings.Repeat("[", maxNesting+1) + strings.Repeat("]", maxNesting+1)
	assert.True(t, errors.IsInvalid(checkNesting([]byte(deep))))

	ok := strings.Repeat("[", maxNesting) + strings.Repeat("]", maxNesting)
	assert.NoError(t, checkNesting([]byte(ok)))

	// strings do not count
	assert.NoError(t, checkNesting([]byte(`{"a":"[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[["}`)))
	assert.NoError(t, checkNesting([]byte(`{"broken":`)), "syntax is left to the decoder")
}

func TestCheckEnvValue(t *testing.T) {
	assert.NoError(t, checkEnvValue("DEVLINK_LOG_LEVEL", "debug"))
	assert.True(t, errors.IsInvalid(checkEnvValue("DEVLINK_NATS_TOKEN", "a\x00b")))
	assert.True(t, errors.IsInvalid(checkEnvValue("DEVLINK_NATS_TOKEN", strings.Repeat("t", maxEnvValue+1))))
}

package serialization_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/serialization"
)

// withMaskedKeys installs a GlobalConfig masking keys for the duration of a test.
func withMaskedKeys(t *testing.T, keys ...string) {
	t.Helper()
	original := config.GlobalConfig
	cfg := config.NewConfig()
	cfg.Chunkflow.Security.MaskedParameterKeys = keys
	config.GlobalConfig = cfg
	t.Cleanup(func() { config.GlobalConfig = original })
}

func TestGetMaskedJobParametersMap(t *testing.T) {
	withMaskedKeys(t, "password", "api_key")

	params := map[string]interface{}{
		"input.file": "people.csv",
		"password":   "hunter2",
		"api_key":    "xyz123",
		"run.id":     int64(3),
	}
	masked := serialization.GetMaskedJobParametersMap(params)

	assert.Equal(t, map[string]interface{}{
		"input.file": "people.csv",
		"password":   serialization.Mask,
		"api_key":    serialization.Mask,
		"run.id":     int64(3),
	}, masked)
	assert.Equal(t, "hunter2", params["password"], "the input map is not modified")
	assert.Empty(t, serialization.GetMaskedJobParametersMap(nil))
}

func TestGetMaskedJobParametersMap_NoConfig(t *testing.T) {
	original := config.GlobalConfig
	config.GlobalConfig = nil
	t.Cleanup(func() { config.GlobalConfig = original })

	masked := serialization.GetMaskedJobParametersMap(map[string]interface{}{"password": "hunter2"})
	assert.Equal(t, "hunter2", masked["password"])
}

func TestExecutionContextRoundTrip(t *testing.T) {
	data, err := serialization.MarshalExecutionContext(map[string]interface{}{
		"personReader.line": 5,
		"status":            "chunk",
	})
	require.NoError(t, err)

	var restored map[string]interface{}
	require.NoError(t, serialization.UnmarshalExecutionContext(data, &restored))
	// encoding/json decodes numbers into float64.
	assert.Equal(t, map[string]interface{}{"personReader.line": float64(5), "status": "chunk"}, restored)
}

func TestExecutionContextEmptyForms(t *testing.T) {
	data, err := serialization.MarshalExecutionContext(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	for _, in := range []string{"", "  ", "null", "{}"} {
		restored := map[string]interface{}{"stale": true}
		require.NoError(t, serialization.UnmarshalExecutionContext([]byte(in), &restored), in)
		assert.Empty(t, restored, in)
	}

	var restored map[string]interface{}
	assert.Error(t, serialization.UnmarshalExecutionContext([]byte("{not json"), &restored))
}

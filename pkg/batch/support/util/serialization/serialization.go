// Package serialization converts job parameters and execution contexts to and
// from their persisted JSON forms.
package serialization

import (
	"bytes"
	"encoding/json"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const module = "serialization"

// Mask is the replacement for masked parameter values.
const Mask = "********"

// GetMaskedJobParametersMap returns a copy of params with the configured
// sensitive keys replaced by Mask.
func GetMaskedJobParametersMap(params map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return map[string]interface{}{}
	}
	masked := make(map[string]interface{}, len(params))
	for k, v := range params {
		masked[k] = v
	}
	for _, key := range config.GetMaskedParameterKeys() {
		if _, ok := masked[key]; ok {
			masked[key] = Mask
		}
	}
	return masked
}

// MarshalExecutionContext serializes an ExecutionContext map. A nil map becomes "{}".
func MarshalExecutionContext(ctx map[string]interface{}) ([]byte, error) {
	if ctx == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		logger.Errorf("Failed to serialize ExecutionContext: %v", err)
		return nil, exception.NewBatchError(module, "failed to serialize ExecutionContext", err, false, false)
	}
	return data, nil
}

// UnmarshalExecutionContext replaces the contents of *ctx with the decoded data.
// Empty input, "null" and "{}" all leave an empty map.
func UnmarshalExecutionContext(data []byte, ctx *map[string]interface{}) error {
	*ctx = make(map[string]interface{})
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" || string(trimmed) == "{}" {
		return nil
	}
	if err := json.Unmarshal(trimmed, ctx); err != nil {
		logger.Errorf("Failed to deserialize ExecutionContext: %v", err)
		return exception.NewBatchError(module, "failed to deserialize ExecutionContext", err, false, false)
	}
	return nil
}

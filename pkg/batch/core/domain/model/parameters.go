package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/serialization"
)

// Parameter type names accepted by ParseJobParameter.
const (
	ParamTypeString = "string"
	ParamTypeLong   = "long"
	ParamTypeDouble = "double"
	ParamTypeDate   = "date"
)

// DateLayout is the short layout accepted for "date" parameters besides RFC 3339.
const DateLayout = "2006-01-02"

// JobParameters holds the typed scalar values identifying a JobInstance.
// Values are string, int64, float64 or time.Time.
type JobParameters struct {
	Params map[string]interface{}
}

// NewJobParameters creates an empty parameter set.
func NewJobParameters() JobParameters {
	return JobParameters{Params: make(map[string]interface{})}
}

// Put sets a value. Ints are widened to int64 so equal sets compare equal.
func (jp JobParameters) Put(key string, value interface{}) {
	switch v := value.(type) {
	case int:
		jp.Params[key] = int64(v)
	case int32:
		jp.Params[key] = int64(v)
	case float32:
		jp.Params[key] = float64(v)
	default:
		jp.Params[key] = value
	}
}

// Get returns the raw value or nil.
func (jp JobParameters) Get(key string) interface{} {
	return jp.Params[key]
}

// Len returns the number of parameters.
func (jp JobParameters) Len() int {
	return len(jp.Params)
}

// Copy returns a shallow copy.
func (jp JobParameters) Copy() JobParameters {
	c := NewJobParameters()
	for k, v := range jp.Params {
		c.Params[k] = v
	}
	return c
}

// GetString returns a string parameter.
func (jp JobParameters) GetString(key string) (string, bool) {
	s, ok := jp.Params[key].(string)
	return s, ok
}

// GetInt64 returns a long parameter. Values restored from JSON are accepted when integral.
func (jp JobParameters) GetInt64(key string) (int64, bool) {
	switch v := jp.Params[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

// GetFloat64 returns a double parameter.
func (jp JobParameters) GetFloat64(key string) (float64, bool) {
	switch v := jp.Params[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

// GetTime returns a date parameter. Values restored from JSON arrive as RFC 3339 strings.
func (jp JobParameters) GetTime(key string) (time.Time, bool) {
	switch v := jp.Params[key].(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Equal reports whether both sets hold the same name/value pairs. The comparison
// uses the canonical JSON form, so a set equals itself after a storage round-trip.
func (jp JobParameters) Equal(other JobParameters) bool {
	a, errA := jp.CanonicalJSON()
	b, errB := other.CanonicalJSON()
	if errA != nil || errB != nil {
		return false
	}
	return a == b
}

// Hash is the sha256 of the canonical JSON form, used to look up a JobInstance.
func (jp JobParameters) Hash() (string, error) {
	normalized, err := jp.CanonicalJSON()
	if err != nil {
		return "", exception.NewBatchError("job_parameters", "failed to marshal JobParameters to canonical JSON", err, false, false)
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON renders the parameters as JSON with sorted keys. Each value is
// tagged with its type, {"run.id":{"long":1}}, so values of different types
// never compare equal. Times are rendered in UTC RFC 3339.
func (jp JobParameters) CanonicalJSON() (string, error) {
	keys := make([]string, 0, len(jp.Params))
	for k := range jp.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range keys {
		kb, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		typ, value, err := typedParam(jp.Params[k])
		if err != nil {
			return "", fmt.Errorf("parameter %s: %w", k, err)
		}
		vb, err := json.Marshal(map[string]interface{}{typ: value})
		if err != nil {
			return "", fmt.Errorf("parameter %s: %w", k, err)
		}
		if i > 0 {
			sb.WriteString(",")
		}
		sb.Write(kb)
		sb.WriteString(":")
		sb.Write(vb)
	}
	sb.WriteString("}")
	return sb.String(), nil
}

// typedParam returns the type name and JSON value of a parameter.
func typedParam(v interface{}) (string, interface{}, error) {
	switch t := v.(type) {
	case string:
		return ParamTypeString, t, nil
	case int64:
		return ParamTypeLong, t, nil
	case int:
		return ParamTypeLong, int64(t), nil
	case int32:
		return ParamTypeLong, int64(t), nil
	case float64:
		return ParamTypeDouble, t, nil
	case float32:
		return ParamTypeDouble, float64(t), nil
	case time.Time:
		return ParamTypeDate, t.UTC().Format(time.RFC3339Nano), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return ParamTypeLong, i, nil
		}
		if f, err := t.Float64(); err == nil {
			return ParamTypeDouble, f, nil
		}
		return ParamTypeString, t.String(), nil
	default:
		return "", nil, fmt.Errorf("unsupported parameter type %T", v)
	}
}

// untypedParam decodes one {"<type>": value} entry written by CanonicalJSON.
func untypedParam(data json.RawMessage) (interface{}, error) {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil || len(tagged) != 1 {
		return nil, fmt.Errorf("expected {\"<type>\": value}, got %s", data)
	}
	for typ, body := range tagged {
		switch typ {
		case ParamTypeString:
			var s string
			err := json.Unmarshal(body, &s)
			return s, err
		case ParamTypeLong:
			var i int64
			err := json.Unmarshal(body, &i)
			return i, err
		case ParamTypeDouble:
			var f float64
			err := json.Unmarshal(body, &f)
			return f, err
		case ParamTypeDate:
			var s string
			if err := json.Unmarshal(body, &s); err != nil {
				return nil, err
			}
			return time.Parse(time.RFC3339Nano, s)
		default:
			return nil, fmt.Errorf("unknown parameter type %q", typ)
		}
	}
	return nil, nil
}

// String renders the parameters as JSON with sensitive keys masked.
func (jp JobParameters) String() string {
	masked := serialization.GetMaskedJobParametersMap(jp.Params)
	data, err := json.Marshal(masked)
	if err != nil {
		return fmt.Sprintf("{[ERROR: failed to marshal masked parameters: %v]}", err)
	}
	return string(data)
}

// Value implements driver.Valuer. The stored form is the canonical JSON.
func (jp JobParameters) Value() (driver.Value, error) {
	if jp.Params == nil {
		return "{}", nil
	}
	return jp.CanonicalJSON()
}

// Scan implements sql.Scanner, restoring each value with its type.
func (jp *JobParameters) Scan(value interface{}) error {
	jp.Params = make(map[string]interface{})
	var b []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for JobParameters: %T", value)
	}
	if len(b) == 0 {
		return nil
	}
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal JobParameters JSON: %w", err)
	}
	for k, data := range raw {
		v, err := untypedParam(data)
		if err != nil {
			return fmt.Errorf("failed to unmarshal JobParameters JSON: parameter %s: %w", k, err)
		}
		jp.Params[k] = v
	}
	return nil
}

// ParseJobParameter parses the command-line form "name(type)=value". The type
// suffix is optional and defaults to string.
func ParseJobParameter(arg string) (string, interface{}, error) {
	eq := strings.Index(arg, "=")
	if eq <= 0 {
		return "", nil, exception.NewBatchErrorf("job_parameters", exception.ErrInvalidJobParameters, "expected name(type)=value, got %q", arg)
	}
	name, raw := arg[:eq], arg[eq+1:]
	typ := ParamTypeString
	if open := strings.Index(name, "("); open > 0 && strings.HasSuffix(name, ")") {
		typ = strings.ToLower(name[open+1 : len(name)-1])
		name = name[:open]
	}
	if name == "" {
		return "", nil, exception.NewBatchErrorf("job_parameters", exception.ErrInvalidJobParameters, "empty parameter name in %q", arg)
	}

	switch typ {
	case ParamTypeString:
		return name, raw, nil
	case ParamTypeLong:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", nil, exception.NewBatchErrorf("job_parameters", exception.ErrInvalidJobParameters, "parameter %s: invalid long %q", name, raw)
		}
		return name, i, nil
	case ParamTypeDouble:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", nil, exception.NewBatchErrorf("job_parameters", exception.ErrInvalidJobParameters, "parameter %s: invalid double %q", name, raw)
		}
		return name, f, nil
	case ParamTypeDate:
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return name, t, nil
		}
		t, err := time.Parse(DateLayout, raw)
		if err != nil {
			return "", nil, exception.NewBatchErrorf("job_parameters", exception.ErrInvalidJobParameters, "parameter %s: invalid date %q", name, raw)
		}
		return name, t, nil
	default:
		return "", nil, exception.NewBatchErrorf("job_parameters", exception.ErrInvalidJobParameters, "parameter %s: unknown type %q", name, typ)
	}
}

// ParseJobParameters builds a parameter set from command-line arguments.
func ParseJobParameters(args []string) (JobParameters, error) {
	params := NewJobParameters()
	for _, arg := range args {
		name, value, err := ParseJobParameter(arg)
		if err != nil {
			return JobParameters{}, err
		}
		params.Put(name, value)
	}
	return params, nil
}

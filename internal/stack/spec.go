package stack

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the resource variant a spec provisions.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindRegistry       Kind = "registry"
	KindComputeService Kind = "compute-service"
	KindLogGroup       Kind = "log-group"
	KindStorageBucket  Kind = "storage-bucket"
	KindIamRole        Kind = "iam-role"
	KindTrainingJob    Kind = "training-job"
	KindModelEndpoint  Kind = "model-endpoint"
)

// Kinds lists every supported resource kind.
func Kinds() []Kind {
	return []Kind{
		KindNetwork,
		KindRegistry,
		KindComputeService,
		KindLogGroup,
		KindStorageBucket,
		KindIamRole,
		KindTrainingJob,
		KindModelEndpoint,
	}
}

// ResourceSpec describes one desired resource. Specs are immutable once
// submitted to a run; identity within a stack is (kind, name).
type ResourceSpec struct {
	Kind       Kind           `json:"kind"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	DependsOn  []string       `json:"dependsOn,omitempty"`
}

// ID returns the spec identifier used for graph edges and state lookup.
func (s *ResourceSpec) ID() string {
	return fmt.Sprintf("%s.%s", s.Kind, s.Name)
}

// ParamString returns a string parameter, or def when absent.
func (s *ResourceSpec) ParamString(key, def string) string {
	if v, ok := s.Parameters[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
		return fmt.Sprintf("%v", v)
	}
	return def
}

// ParamInt returns an integer parameter, or def when absent.
func (s *ResourceSpec) ParamInt(key string, def int) int {
	switch v := s.Parameters[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Hash returns a stable digest of the spec's parameters. The orchestrator
// compares it against the recorded hash to decide whether an ensure call can
// be skipped entirely.
func (s *ResourceSpec) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", s.Kind, s.Name)

	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, _ := json.Marshal(s.Parameters[k])
		fmt.Fprintf(h, "%s=%s\x00", k, v)
	}
	return hex.EncodeToString(h.Sum(nil))
}

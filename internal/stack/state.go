package stack

import "time"

// Status is the lifecycle state of one provisioned resource.
type Status string

const (
	StatusAbsent       Status = "absent"
	StatusProvisioning Status = "provisioning"
	StatusReady        Status = "ready"
	StatusFailed       Status = "failed"
	StatusTearingDown  Status = "tearing-down"
)

// ResourceState is the persisted record of one resource. It is owned by the
// state store and mutated only by the orchestrator.
type ResourceState struct {
	SpecID     string         `json:"specId"`
	Kind       Kind           `json:"kind"`
	Name       string         `json:"name"`
	Status     Status         `json:"status"`
	ExternalID string         `json:"externalId,omitempty"`
	SpecHash   string         `json:"specHash,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	LastError  string         `json:"lastError,omitempty"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Stack is one named, region-scoped deployable environment and its full
// resource set, keyed by spec ID.
type Stack struct {
	Name      string                    `json:"name"`
	Region    string                    `json:"region"`
	Serial    int                       `json:"serial"`
	Resources map[string]*ResourceState `json:"resources"`
	Outputs   map[string]any            `json:"outputs,omitempty"`
	Runs      []*TrainingRun            `json:"runs,omitempty"`
}

// NewStack returns an empty stack for the given name and region.
func NewStack(name, region string) *Stack {
	return &Stack{
		Name:      name,
		Region:    region,
		Resources: make(map[string]*ResourceState),
		Outputs:   make(map[string]any),
	}
}

// Resource returns the recorded state for a spec ID, or nil.
func (s *Stack) Resource(specID string) *ResourceState {
	return s.Resources[specID]
}

// SetResource records the state for a resource, stamping the update time.
func (s *Stack) SetResource(rs *ResourceState) {
	rs.UpdatedAt = time.Now().UTC()
	if s.Resources == nil {
		s.Resources = make(map[string]*ResourceState)
	}
	s.Resources[rs.SpecID] = rs
}

// SetOutput records a published output value.
func (s *Stack) SetOutput(key string, value any) {
	if s.Outputs == nil {
		s.Outputs = make(map[string]any)
	}
	s.Outputs[key] = value
}

// MaxModelVersion returns the highest model version any training run of this
// stack has published, 0 when none have.
func (s *Stack) MaxModelVersion() int {
	max := 0
	for _, run := range s.Runs {
		if run.ModelVersion > max {
			max = run.ModelVersion
		}
	}
	return max
}

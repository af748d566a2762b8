package flow

import (
	"main/internal/schema"
)

// ConnectorRole distinguishes flow-control connectors (no payload) from
// payload-bearing ones.
type ConnectorRole uint16

const (
	RoleFlowControl ConnectorRole = iota + 1
	RolePayload
)

// InputConnector declares one way a worker can be triggered. Payload is
// RecordUnknown for pure triggers.
type InputConnector struct {
	Name    string
	Handler string
	Payload schema.RecordKind
}

// OutputConnector declares one way a worker hands control or data onward.
type OutputConnector struct {
	Name    string
	Role    ConnectorRole
	Payload schema.RecordKind
}

// Manifest is a worker's declared contract: its connectors plus the record
// kinds it requires from and produces into the run cache. Bootstrap
// validation treats this as the sole source of truth.
type Manifest struct {
	Worker   string
	Inputs   []InputConnector
	Outputs  []OutputConnector
	Requires []schema.RecordKind
	Produces []schema.RecordKind
}

// Input looks up a declared input connector by name.
func (m Manifest) Input(name string) (InputConnector, bool) {
	for _, in := range m.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return InputConnector{}, false
}

// Output looks up a declared output connector by name.
func (m Manifest) Output(name string) (OutputConnector, bool) {
	for _, out := range m.Outputs {
		if out.Name == name {
			return out, true
		}
	}
	return OutputConnector{}, false
}

// Completion returns the worker's flow-control output used for Continue.
func (m Manifest) Completion() (OutputConnector, bool) {
	for _, out := range m.Outputs {
		if out.Role == RoleFlowControl {
			return out, true
		}
	}
	return OutputConnector{}, false
}

// Worker is a stateless processing unit. It declares its contract through
// the manifest and exposes its handler methods by name.
type Worker interface {
	Manifest() Manifest
	Handlers() map[string]Handler
}

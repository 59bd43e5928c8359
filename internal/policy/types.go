package policy

import "strings"

// Capability is the category of effect an action has on the host.
type Capability string

const (
	CapabilityWrite   Capability = "write"
	CapabilityExec    Capability = "exec"
	CapabilityNet     Capability = "net"
	CapabilitySecrets Capability = "secrets"
	CapabilityDNS     Capability = "dns"
	CapabilityDeploy  Capability = "deploy"
	CapabilityRead    Capability = "read"
)

// Mode is a named trust level bundling default decisions per capability.
type Mode string

const (
	ModePlayground Mode = "playground"
	ModeDev        Mode = "dev"
	ModeTrusted    Mode = "trusted"
	ModeProd       Mode = "prod"
)

// Decision is the resolved outcome for one capability check.
type Decision string

const (
	DecisionAuto   Decision = "auto"
	DecisionReview Decision = "review"
	DecisionForbid Decision = "forbid"
)

// DefaultMode is used when no policy has been persisted yet.
const DefaultMode = ModeDev

// Capabilities lists every capability in stable order.
var Capabilities = []Capability{
	CapabilityWrite,
	CapabilityExec,
	CapabilityNet,
	CapabilitySecrets,
	CapabilityDNS,
	CapabilityDeploy,
	CapabilityRead,
}

// Modes lists every mode in stable order.
var Modes = []Mode{ModePlayground, ModeDev, ModeTrusted, ModeProd}

// Policy is the persisted engine state: the active mode plus any
// operator-set per-capability overrides.
type Policy struct {
	Mode      Mode                    `yaml:"mode" json:"mode"`
	Overrides map[Capability]Decision `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// Snapshot is the fully resolved decision table for introspection.
type Snapshot struct {
	Mode      Mode                    `json:"mode"`
	Approvals map[Capability]Decision `json:"approvals"`
}

// ParseCapability normalizes and validates a capability name.
func ParseCapability(s string) (Capability, bool) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CapabilityWrite, CapabilityExec, CapabilityNet, CapabilitySecrets,
		CapabilityDNS, CapabilityDeploy, CapabilityRead:
		return c, true
	}
	return "", false
}

// ParseMode normalizes and validates a mode name.
func ParseMode(s string) (Mode, bool) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModePlayground, ModeDev, ModeTrusted, ModeProd:
		return m, true
	}
	return "", false
}

// ParseDecision normalizes and validates a decision name.
func ParseDecision(s string) (Decision, bool) {
	d := Decision(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DecisionAuto, DecisionReview, DecisionForbid:
		return d, true
	}
	return "", false
}

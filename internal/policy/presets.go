package policy

// Preset returns the default decision for a capability under a mode.
//
// The table is security relevant and intentionally exhaustive: read is never
// gated, playground forbids the irreversible capabilities outright, trusted
// is the only mode where write is auto, and prod tightens exec back to
// review because blast radius against a production target is categorically
// different.
func Preset(mode Mode, cap Capability) Decision {
	switch cap {
	case CapabilityRead:
		return DecisionAuto

	case CapabilityWrite:
		switch mode {
		case ModePlayground:
			return DecisionForbid
		case ModeTrusted:
			return DecisionAuto
		default: // dev, prod
			return DecisionReview
		}

	case CapabilityExec:
		switch mode {
		case ModeProd:
			return DecisionReview
		default: // playground, dev, trusted
			return DecisionAuto
		}

	case CapabilityNet, CapabilitySecrets:
		return DecisionReview

	case CapabilityDNS, CapabilityDeploy:
		switch mode {
		case ModePlayground:
			return DecisionForbid
		default: // dev, trusted, prod
			return DecisionReview
		}

	default:
		// Unknown capabilities never slip through as allowed.
		return DecisionForbid
	}
}

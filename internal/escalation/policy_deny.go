package escalation

// DenyPolicy refuses every escalation request. Intended for embedders who
// want the protocol's plumbing (audit trail, IPC notification) without
// DefaultPolicy's grant-all behavior; pair with a separate, explicit
// provisioning path for capabilities instead.
type DenyPolicy struct{}

func (DenyPolicy) Decide(req Request) Decision {
	return Decision{Grant: false, Reason: "deny-by-default policy: no capability is ever auto-granted"}
}

package xbridge

// Accepts reports whether the participant identified by self should process
// env. Rules are evaluated in order and the first match wins:
//
//  1. own emissions are never processed (the transport echoes to the sender);
//  2. broadcast envelopes are processed by everyone else;
//  3. targeted envelopes are processed only by their target;
//  4. anything else is open to every listener.
func Accepts(env Envelope, self string) bool {
	if env.Meta.Source == self {
		return false
	}
	if env.Meta.Broadcast {
		return true
	}
	if env.Meta.Target != "" {
		return env.Meta.Target == self
	}
	return true
}

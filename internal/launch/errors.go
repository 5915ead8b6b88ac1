package launch

import "errors"

// ErrAgentBinaryMissing is returned by Resolve when the resolved
// executable cannot be found on $PATH and is not an absolute path that
// exists. The Session Manager treats this as non-fatal and downgrades
// the session to a plain terminal.
var ErrAgentBinaryMissing = errors.New("launch: agent binary not found on PATH")

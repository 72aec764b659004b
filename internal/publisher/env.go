package publisher

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/starford/ansuz/internal/draft"
	"github.com/starford/ansuz/internal/frontmatter"
	"github.com/starford/ansuz/internal/guardrail"
	"github.com/starford/ansuz/internal/storage"
)

// KillSwitchEnv halts all publishing when set to a truthy value.
const KillSwitchEnv = "STOP_PUBLISH"

// Environment samples the ambient guardrail inputs: kill switch, host
// identity, and the human approval record. It exists so the evaluator can
// stay a pure function.
type Environment struct {
	fs           storage.Provider
	stopEnv      string
	stopFile     string // workspace-relative marker file
	requiredHost string
}

// NewEnvironment creates the input sampler. stopFile defaults to the
// workspace kill-switch marker.
func NewEnvironment(fs storage.Provider, stopFile string) *Environment {
	if stopFile == "" {
		stopFile = draft.StopFile
	}
	return &Environment{fs: fs, stopEnv: KillSwitchEnv, stopFile: stopFile}
}

// Stopped reports whether the kill switch is engaged, by env flag or by the
// presence of the marker file. An unreadable marker counts as engaged:
// ambiguity halts publishing rather than allowing it.
func (e *Environment) Stopped() (bool, string) {
	if frontmatter.Truthy(os.Getenv(e.stopEnv)) {
		return true, fmt.Sprintf("%s is set", e.stopEnv)
	}
	exists, err := e.fs.Exists(e.stopFile)
	if err != nil {
		return true, fmt.Sprintf("kill switch check failed: %v", err)
	}
	if exists {
		return true, fmt.Sprintf("kill switch file present: %s", e.stopFile)
	}
	return false, ""
}

// Host returns the short hostname (before the first dot).
func (e *Environment) Host() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	short, _, _ := strings.Cut(name, ".")
	return short
}

// Approved reports whether the human approval record explicitly references
// the draft file name. A missing record approves nothing.
func (e *Environment) Approved(draftID string) (bool, error) {
	data, err := e.fs.Read(draft.ApprovalFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return strings.Contains(string(data), path.Base(draftID)), nil
}

// Inputs samples everything at once for one guardrail evaluation.
func (e *Environment) Inputs(draftID string) (guardrail.Inputs, error) {
	stopped, detail := e.Stopped()
	approved, err := e.Approved(draftID)
	if err != nil {
		return guardrail.Inputs{}, err
	}
	return guardrail.Inputs{
		Stopped:    stopped,
		StopDetail: detail,
		Host:       e.Host(),
		Approved:   approved,
	}, nil
}

package process

import (
	"fmt"
	"os/exec"
	"strings"
)

// ToolStatus reports whether one configured binary can be executed.
type ToolStatus struct {
	Command   string
	Available bool
	Detail    string
}

// CheckTools looks every command up on PATH.
func CheckTools(commands []string) []ToolStatus {
	results := make([]ToolStatus, 0, len(commands))
	for _, c := range commands {
		c = strings.TrimSpace(c)
		st := ToolStatus{Command: c}
		switch {
		case c == "":
			st.Detail = "command not configured"
		default:
			if _, err := exec.LookPath(c); err != nil {
				st.Detail = fmt.Sprintf("binary %q not found", c)
			} else {
				st.Available = true
			}
		}
		results = append(results, st)
	}
	return results
}

// Missing returns the commands that are not available.
func Missing(statuses []ToolStatus) []string {
	var out []string
	for _, s := range statuses {
		if !s.Available {
			out = append(out, s.Command)
		}
	}
	return out
}

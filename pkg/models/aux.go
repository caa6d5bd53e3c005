package models

import "encoding/json"

// Citation is one entry of a turn's citation list. The server always
// sends the full list, never a delta.
type Citation struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// AuxPayload is the structured side-channel of a rich turn. Different
// push events carry different, non-overlapping subsets of it, so it is
// always merged field-by-field, never replaced wholesale.
type AuxPayload struct {
	// Steps is the accumulated reasoning trace.
	Steps string `json:"steps,omitempty"`
	// Workbench holds tool output blocks. Servers send the full array.
	Workbench []json.RawMessage `json:"workbench,omitempty"`
	// Citations is the current full citation list for the turn.
	Citations []Citation `json:"citations,omitempty"`
	// Shell discriminates which generation engine produced the turn.
	Shell string `json:"shell,omitempty"`
}

// AuxDelta is the incremental form carried by chunk/done events. Steps
// and StepsDelta are mutually exclusive per event: Steps carries the full
// accumulated trace, StepsDelta an increment to append.
type AuxDelta struct {
	Steps      string            `json:"steps,omitempty"`
	StepsDelta string            `json:"steps_delta,omitempty"`
	Workbench  []json.RawMessage `json:"workbench,omitempty"`
	Shell      string            `json:"shell,omitempty"`
}

// Merge folds an incoming delta into the payload. Array fields are
// replaced only when the delta supplies a non-empty array, scalar
// discriminators only when present; the two reasoning sub-fields select
// append vs replace.
func (a *AuxPayload) Merge(d AuxDelta) {
	if d.Steps != "" {
		a.Steps = d.Steps
	} else if d.StepsDelta != "" {
		a.Steps += d.StepsDelta
	}
	if len(d.Workbench) > 0 {
		a.Workbench = d.Workbench
	}
	if d.Shell != "" {
		a.Shell = d.Shell
	}
}

// SetCitations replaces the citation list when the event supplied one.
func (a *AuxPayload) SetCitations(cs []Citation) {
	if len(cs) > 0 {
		a.Citations = cs
	}
}

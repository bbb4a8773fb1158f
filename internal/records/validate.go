package records

import (
	"fmt"
	"slices"
	"strings"
)

// FieldViolation is one structurally invalid field.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violated field of a rejected payload.
// Validation is synchronous and never retryable.
type ValidationError struct {
	Fields []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldViolation{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// validateNode normalizes defaults and checks the node payload, collecting
// every violation rather than stopping at the first.
func validateNode(n *Node) error {
	verr := &ValidationError{}

	if n.Status == "" {
		n.Status = "active"
	}
	if n.Type == "" {
		verr.add("type", "required")
	} else if !slices.Contains(NodeTypes, n.Type) {
		verr.add("type", "must be one of %s", strings.Join(NodeTypes, ", "))
	}
	if strings.TrimSpace(n.Title) == "" {
		verr.add("title", "required")
	}
	if !slices.Contains(NodeStatuses, n.Status) {
		verr.add("status", "must be one of %s", strings.Join(NodeStatuses, ", "))
	}
	for i, tag := range n.Tags {
		if strings.TrimSpace(tag) == "" {
			verr.add(fmt.Sprintf("tags[%d]", i), "must not be empty")
		}
	}

	return verr.orNil()
}

// validateCheckpoint checks the checkpoint payload.
func validateCheckpoint(cp *Checkpoint) error {
	verr := &ValidationError{}

	if cp.Agent.ID == "" {
		verr.add("agent.id", "required")
	}
	if cp.Result.Status == "" {
		verr.add("result.status", "required")
	} else if !slices.Contains(RunStatuses, cp.Result.Status) {
		verr.add("result.status", "must be one of %s", strings.Join(RunStatuses, ", "))
	}
	for i, step := range cp.Plan {
		if strings.TrimSpace(step.Description) == "" {
			verr.add(fmt.Sprintf("plan[%d].description", i), "required")
		}
	}
	for i, node := range cp.Links.Nodes {
		if strings.TrimSpace(node) == "" {
			verr.add(fmt.Sprintf("links.nodes[%d]", i), "must not be empty")
		}
	}

	return verr.orNil()
}

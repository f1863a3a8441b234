package task

import "fmt"

// ID is the globally unique identity tuple for a task: (namespace, workflow,
// job, name). It is comparable and safe to use as a map key.
type ID struct {
	Namespace string `json:"namespace"`
	Workflow  string `json:"workflow"`
	Job       string `json:"job"`
	Name      string `json:"name"`
}

func (id ID) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", id.Namespace, id.Workflow, id.Job, id.Name)
}

// Less gives the lexicographic tuple order used to break ties deterministically
// (resolver candidate selection, ready-task dispatch order).
func (id ID) Less(other ID) bool {
	if id.Namespace != other.Namespace {
		return id.Namespace < other.Namespace
	}
	if id.Workflow != other.Workflow {
		return id.Workflow < other.Workflow
	}
	if id.Job != other.Job {
		return id.Job < other.Job
	}
	return id.Name < other.Name
}

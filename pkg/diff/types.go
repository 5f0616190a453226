package diff

// Op is the kind of a change.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpModify Op = "modify"
)

// Change is one field-level difference between two revisions.
type Change struct {
	// Op is what happened to the field.
	Op Op `json:"op" yaml:"op"`

	// Path names the field. Relationship paths have the form
	// relationships[<kind> <target url>].
	Path string `json:"path" yaml:"path"`

	// Old is the value in the first revision. Nil for additions.
	Old interface{} `json:"old,omitempty" yaml:"old,omitempty"`

	// New is the value in the second revision. Nil for removals.
	New interface{} `json:"new,omitempty" yaml:"new,omitempty"`

	// Patch is a diff-match-patch patch from Old to New for text fields.
	Patch string `json:"patch,omitempty" yaml:"patch,omitempty"`
}

// Paths returns the paths of changes in order.
func Paths(changes []Change) []string {
	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.Path
	}
	return paths
}

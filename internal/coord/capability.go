package coord

// Capability advertises what an agent can do and how busy it is
type Capability struct {
	Specializations []string `json:"specializations"`
	CurrentLoad     int      `json:"current_load"`
	Status          string   `json:"status"`
	Target          string   `json:"target"`
	ToolsAvailable  []string `json:"tools_available"`
	FindingsCount   int      `json:"findings_count"`
}

// clone returns a deep copy
func (c Capability) clone() Capability {
	out := c
	out.Specializations = append([]string(nil), c.Specializations...)
	out.ToolsAvailable = append([]string(nil), c.ToolsAvailable...)
	return out
}

// Overlaps reports whether c shares any specialization with specs
func (c Capability) Overlaps(specs []string) bool {
	for _, a := range c.Specializations {
		for _, b := range specs {
			if a == b {
				return true
			}
		}
	}
	return false
}

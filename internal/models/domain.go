package models

// Domain is a registered application category with its own alert rules.
type Domain struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	DataTypes  []string   `json:"data_types" yaml:"data_types"`
	Severities []Severity `json:"severities" yaml:"severities"`
}

// Clone returns a deep copy so registered domains cannot be mutated by callers.
func (d Domain) Clone() Domain {
	out := Domain{ID: d.ID, Name: d.Name}
	if d.DataTypes != nil {
		out.DataTypes = append([]string(nil), d.DataTypes...)
	}
	if d.Severities != nil {
		out.Severities = append([]Severity(nil), d.Severities...)
	}
	return out
}

// SupportsDataType reports whether the domain declares the data type tag.
func (d Domain) SupportsDataType(dataType string) bool {
	for _, t := range d.DataTypes {
		if t == dataType {
			return true
		}
	}
	return false
}

// DeclaresSeverity reports whether the domain may emit the severity.
func (d Domain) DeclaresSeverity(s Severity) bool {
	for _, v := range d.Severities {
		if v == s {
			return true
		}
	}
	return false
}

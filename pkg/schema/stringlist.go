package schema

import "encoding/json"

// StringOrList represents a field that may be encoded as either a single
// JSON string or an ordered array of strings (tool_name, agent_type,
// tool_provider). The zero value is an empty, absent list.
type StringOrList []string

// UnmarshalJSON accepts either a JSON string or a JSON array of strings.
func (s *StringOrList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringOrList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = StringOrList(list)
	return nil
}

// MarshalJSON encodes a single-element list back as a bare string, and
// multi-element (or non-nil empty) lists as a JSON array, mirroring the
// wire shape that produced them. A nil list encodes as null.
func (s StringOrList) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

// Contains reports whether value appears in the list.
func (s StringOrList) Contains(value string) bool {
	for _, v := range s {
		if v == value {
			return true
		}
	}
	return false
}

// IsWildcard reports whether the list is exactly the single value "*".
func (s StringOrList) IsWildcard() bool {
	return len(s) == 1 && s[0] == "*"
}

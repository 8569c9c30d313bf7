package model

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// AttributeValue holds a directory custom attribute, which the admin API
// serves either as a plain string or as an ordered list of strings.
type AttributeValue []string

func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*v = AttributeValue{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.Errorf("attribute value is neither string nor string list: %s", string(data))
	}

	*v = AttributeValue(many)

	return nil
}

func (v AttributeValue) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(v))
}

// First returns the first element and true, or "" and false when the value
// is absent or empty.
func (v AttributeValue) First() (string, bool) {
	if len(v) == 0 || v[0] == "" {
		return "", false
	}

	return v[0], true
}

// User is a directory user as served by the source admin API. Immutable once
// fetched.
type User struct {
	ID               string                    `json:"id"`
	Username         string                    `json:"username,omitempty"`
	Email            string                    `json:"email,omitempty"`
	FirstName        string                    `json:"firstName,omitempty"`
	LastName         string                    `json:"lastName,omitempty"`
	Enabled          bool                      `json:"enabled"`
	CreatedTimestamp int64                     `json:"createdTimestamp,omitempty"`
	Attributes       map[string]AttributeValue `json:"attributes,omitempty"`
}

// Group is a directory group. Member user IDs are fetched separately and
// carried in source order.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

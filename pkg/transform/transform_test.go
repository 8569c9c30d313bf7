package transform_test

import (
	"encoding/json"
	"testing"

	"github.com/acmecorp/people-sync/pkg/model"
	"github.com/acmecorp/people-sync/pkg/transform"
	"github.com/stretchr/testify/require"
)

func TestMapUserStatus(t *testing.T) {
	assert := require.New(t)

	users := []model.User{
		{ID: "u1", Email: "a@x.com", Enabled: true},
		{ID: "u2", Email: "b@x.com", Enabled: false},
		{ID: "u3", Email: "c@x.com", Enabled: true, FirstName: "C", CreatedTimestamp: 1},
	}

	expected := []model.EmploymentStatus{model.StatusCurrent, model.StatusFormer, model.StatusCurrent}

	for i, user := range users {
		employee, err := transform.MapUser(user)
		assert.NoError(err)
		assert.Equal(expected[i], employee.Status)
	}
}

func TestMapUserMissingEmail(t *testing.T) {
	assert := require.New(t)

	_, err := transform.MapUser(model.User{ID: "u1", FirstName: "A", Enabled: true})
	assert.Error(err)

	var mapErr *transform.MappingError
	assert.ErrorAs(err, &mapErr)
	assert.Equal("u1", mapErr.RecordID)
}

func TestMapUserPayloadShape(t *testing.T) {
	assert := require.New(t)

	user := model.User{
		ID:               "u1",
		Email:            "a@x.com",
		FirstName:        "A",
		LastName:         "B",
		Enabled:          true,
		CreatedTimestamp: 1700000000000,
		Attributes: map[string]model.AttributeValue{
			"department": {"Eng"},
		},
	}

	employee, err := transform.MapUser(user)
	assert.NoError(err)

	data, err := json.Marshal(employee)
	assert.NoError(err)

	payload := map[string]any{}
	assert.NoError(json.Unmarshal(data, &payload))

	assert.Equal(map[string]any{
		"email":      "a@x.com",
		"firstName":  "A",
		"lastName":   "B",
		"id":         "u1",
		"department": "Eng",
		"status":     "CURRENT",
		"startDate":  "2023-11-14",
	}, payload)
}

func TestMapUserIdempotent(t *testing.T) {
	assert := require.New(t)

	user := model.User{
		ID:               "u1",
		Email:            "a@x.com",
		Enabled:          false,
		CreatedTimestamp: 1700000000000,
		Attributes: map[string]model.AttributeValue{
			"title":       {"Engineer", "Senior"},
			"phoneNumber": {"+1-555-0100"},
		},
	}

	first, err := transform.MapUser(user)
	assert.NoError(err)

	second, err := transform.MapUser(user)
	assert.NoError(err)

	firstJSON, err := json.Marshal(first)
	assert.NoError(err)
	secondJSON, err := json.Marshal(second)
	assert.NoError(err)

	assert.Equal(firstJSON, secondJSON)
}

func TestMapUserAttributeRules(t *testing.T) {
	assert := require.New(t)

	user := model.User{
		ID:      "u1",
		Email:   "a@x.com",
		Enabled: true,
		Attributes: map[string]model.AttributeValue{
			"department":   {"Eng", "Platform"},
			"title":        {},
			"businessUnit": {""},
			"shoeSize":     {"42"},
		},
	}

	employee, err := transform.MapUser(user)
	assert.NoError(err)

	// first element of a list, empty and unrecognized omitted
	assert.Equal("Eng", employee.Department)
	assert.Empty(employee.Title)
	assert.Empty(employee.BusinessUnit)

	data, err := json.Marshal(employee)
	assert.NoError(err)
	assert.NotContains(string(data), "shoeSize")
	assert.NotContains(string(data), "null")
}

func TestAttributeValueScalar(t *testing.T) {
	assert := require.New(t)

	var user model.User
	assert.NoError(json.Unmarshal([]byte(`{"id":"u1","email":"a@x.com","enabled":true,"attributes":{"department":"Eng"}}`), &user))

	employee, err := transform.MapUser(user)
	assert.NoError(err)
	assert.Equal("Eng", employee.Department)
}

func TestMapGroup(t *testing.T) {
	assert := require.New(t)

	emailByID := map[string]string{
		"u1": "a@x.com",
		"u2": "b@x.com",
	}

	result := transform.MapGroup(
		model.Group{ID: "g1", Name: "platform"},
		[]string{"u1", "u3", "u2"},
		emailByID,
	)

	assert.Equal("platform", result.Team.Name)
	assert.Equal("g1", result.Team.ExternalID)
	assert.Equal([]model.TeamMember{{Email: "a@x.com"}, {Email: "b@x.com"}}, result.Team.Members)
	assert.Equal([]string{"u3"}, result.Unresolved)
}

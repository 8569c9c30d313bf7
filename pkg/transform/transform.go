// Package transform maps source directory records into people-index payloads.
// All functions are pure: no I/O, deterministic output for a given input.
package transform

import (
	"fmt"
	"time"

	"github.com/acmecorp/people-sync/pkg/model"
)

// Custom attribute names recognized on source users. Anything else is
// dropped.
const (
	attrDepartment   = "department"
	attrTitle        = "title"
	attrBusinessUnit = "businessUnit"
	attrPhoneNumber  = "phoneNumber"
	attrManagerEmail = "managerEmail"
	attrBio          = "bio"
	attrPhotoURL     = "photoUrl"
)

// MappingError reports a source record that cannot be represented in the
// target schema. The record is skipped and counted, never transmitted.
type MappingError struct {
	RecordID string
	Reason   string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("cannot map record %q: %s", e.RecordID, e.Reason)
}

// MapUser converts a source user into an employee payload.
//
// Email is mandatory on the target side; a user without one is rejected with
// a *MappingError. enabled maps to CURRENT/FORMER, createdTimestamp (epoch
// milliseconds) to a UTC calendar date, and recognized custom attributes take
// the first element of a list value or the scalar as-is. Absent or empty
// values leave the target field unset.
func MapUser(user model.User) (model.Employee, error) {
	if user.Email == "" {
		return model.Employee{}, &MappingError{RecordID: user.ID, Reason: "missing email"}
	}

	employee := model.Employee{
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		ID:        user.ID,
		Status:    model.StatusFormer,
	}

	if user.Enabled {
		employee.Status = model.StatusCurrent
	}

	if user.CreatedTimestamp > 0 {
		employee.StartDate = time.UnixMilli(user.CreatedTimestamp).UTC().Format(time.DateOnly)
	}

	employee.Department = attribute(user, attrDepartment)
	employee.Title = attribute(user, attrTitle)
	employee.BusinessUnit = attribute(user, attrBusinessUnit)
	employee.PhoneNumber = attribute(user, attrPhoneNumber)
	employee.ManagerEmail = attribute(user, attrManagerEmail)
	employee.Bio = attribute(user, attrBio)
	employee.PhotoURL = attribute(user, attrPhotoURL)

	return employee, nil
}

// GroupResult carries a mapped team plus the member IDs that could not be
// resolved to an email. Unresolved members are skipped, not an error.
type GroupResult struct {
	Team       model.Team
	Unresolved []string
}

// MapGroup converts a source group and its member IDs into a team payload,
// resolving members to emails through emailByID.
func MapGroup(group model.Group, memberIDs []string, emailByID map[string]string) GroupResult {
	result := GroupResult{
		Team: model.Team{
			Name:       group.Name,
			ExternalID: group.ID,
			Members:    make([]model.TeamMember, 0, len(memberIDs)),
		},
	}

	for _, id := range memberIDs {
		email, ok := emailByID[id]
		if !ok || email == "" {
			result.Unresolved = append(result.Unresolved, id)
			continue
		}

		result.Team.Members = append(result.Team.Members, model.TeamMember{Email: email})
	}

	return result
}

func attribute(user model.User, name string) string {
	value, ok := user.Attributes[name]
	if !ok {
		return ""
	}

	first, ok := value.First()
	if !ok {
		return ""
	}

	return first
}

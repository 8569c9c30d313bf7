package model

// EmploymentStatus of an indexed employee.
type EmploymentStatus string

const (
	StatusCurrent EmploymentStatus = "CURRENT"
	StatusFormer  EmploymentStatus = "FORMER"
)

// Employee is the people-index payload for one person. Email is the unique
// key and the only required field; every optional field is omitted from the
// payload when unset, never serialized as null or empty.
type Employee struct {
	Email        string           `json:"email"`
	FirstName    string           `json:"firstName,omitempty"`
	LastName     string           `json:"lastName,omitempty"`
	ID           string           `json:"id,omitempty"`
	Department   string           `json:"department,omitempty"`
	Title        string           `json:"title,omitempty"`
	BusinessUnit string           `json:"businessUnit,omitempty"`
	PhoneNumber  string           `json:"phoneNumber,omitempty"`
	ManagerEmail string           `json:"managerEmail,omitempty"`
	Bio          string           `json:"bio,omitempty"`
	PhotoURL     string           `json:"photoUrl,omitempty"`
	Status       EmploymentStatus `json:"status"`
	StartDate    string           `json:"startDate,omitempty"`
}

// TeamMember references a team member by email.
type TeamMember struct {
	Email string `json:"email"`
}

// Team is the people-index payload for one group with its resolved members.
type Team struct {
	Name       string       `json:"name"`
	ExternalID string       `json:"externalId,omitempty"`
	Members    []TeamMember `json:"members"`
}

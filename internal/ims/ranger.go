package ims

import "fmt"

// Ranger is a user record resolved through the personnel directory.
// It is immutable for the duration of a request.
type Ranger struct {
	// Handle is the Ranger's short name, unique within the directory.
	Handle string

	// Email addresses known for the Ranger; used as alternate login
	// identification.
	Email []string

	// Status is the directory's membership status label (e.g. "active",
	// "vintage"). Informational; authorization keys off Enabled.
	Status string

	// Enabled gates login. Disabled Rangers resolve for display purposes
	// but cannot authenticate.
	Enabled bool

	// Onsite reports whether the Ranger is checked in on site.
	Onsite bool

	// DirectoryID is the backend's opaque identifier for this person.
	DirectoryID string

	// Password is the stored salted hash, never the plaintext. Empty when
	// the backend withholds credentials.
	Password string

	// Groups are position names used by "position:" ACL expressions.
	Groups []string
}

// Validate checks the directory record.
func (r Ranger) Validate() error {
	if r.Handle == "" {
		return fmt.Errorf("%w: ranger handle cannot be empty", ErrValidation)
	}

	return nil
}

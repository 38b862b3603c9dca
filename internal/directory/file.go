package directory

import (
	"context"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

// Compile-time interface verification.
var _ Provider = (*File)(nil)

// File is a Provider backed by a YAML personnel file. The file is re-read
// on every Personnel call; deployments wrap it in Cached, which bounds
// the read rate to the refresh interval.
//
// Schema:
//
//	admins:
//	  - Operator
//	users:
//	  - handle: Operator
//	    email: [operator@example.org]
//	    status: active
//	    enabled: true
//	    onsite: true
//	    password: <bcrypt or salt:hexdigest>
//	    groups: [Operations Manager]
type File struct {
	path string
}

type (
	fileSchema struct {
		Admins []string   `yaml:"admins"`
		Users  []fileUser `yaml:"users"`
	}

	fileUser struct {
		Handle   string   `yaml:"handle"`
		Email    []string `yaml:"email"`
		Status   string   `yaml:"status"`
		Enabled  *bool    `yaml:"enabled"` // Defaults to true when omitted
		Onsite   bool     `yaml:"onsite"`
		Password string   `yaml:"password"`
		Groups   []string `yaml:"groups"`
	}
)

// NewFile creates a file-backed directory, verifying up front that the
// file parses and every record is valid. A typo surfaces at startup, not
// at somebody's first login.
func NewFile(path string) (*File, error) {
	f := &File{path: path}

	if _, err := f.Personnel(context.Background()); err != nil {
		return nil, err
	}

	return f, nil
}

// Personnel implements Provider.
func (f *File) Personnel(_ context.Context) ([]ims.Ranger, error) {
	schema, err := f.load()
	if err != nil {
		return nil, err
	}

	rangers := make([]ims.Ranger, 0, len(schema.Users))

	for _, user := range schema.Users {
		enabled := user.Enabled == nil || *user.Enabled

		ranger := ims.Ranger{
			Handle:      user.Handle,
			Email:       slices.Clone(user.Email),
			Status:      user.Status,
			Enabled:     enabled,
			Onsite:      user.Onsite,
			DirectoryID: user.Handle,
			Password:    user.Password,
			Groups:      slices.Clone(user.Groups),
		}

		if err := ranger.Validate(); err != nil {
			return nil, fmt.Errorf("personnel file %s: %w", f.path, err)
		}

		rangers = append(rangers, ranger)
	}

	return rangers, nil
}

// LookupUser implements Provider.
func (f *File) LookupUser(ctx context.Context, searchTerm string) (*ims.Ranger, error) {
	rangers, err := f.Personnel(ctx)
	if err != nil {
		return nil, err
	}

	return lookupIn(rangers, searchTerm)
}

// Admins returns the handles granted administrator rights by the file.
// The server merges these with the IMS_ADMINS environment list.
func (f *File) Admins() ([]string, error) {
	schema, err := f.load()
	if err != nil {
		return nil, err
	}

	return schema.Admins, nil
}

func (f *File) load() (*fileSchema, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrUnavailable, f.path, err)
	}

	var schema fileSchema
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse personnel file %s: %w", f.path, err)
	}

	return &schema, nil
}

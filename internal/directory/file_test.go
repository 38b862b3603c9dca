package directory

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

const personnelYAML = `
admins:
  - Operator
users:
  - handle: Operator
    email:
      - operator@rangers.example.org
    status: active
    onsite: true
    password: "saltvalue:4a4c50688190ef1dc9aced9babc7bf4ff520ee712d249b98e3725da81479a7c1" # pragma: allowlist secret
    groups:
      - Operations Manager
      - Shift Command
  - handle: Tulip
    email:
      - tulip@rangers.example.org
      - operator.fan@example.com
    status: vintage
    enabled: false
  - handle: Defect
    status: active
`

func writePersonnelFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "personnel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write personnel file: %v", err)
	}

	return path
}

func TestFilePersonnel(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	provider, err := NewFile(writePersonnelFile(t, personnelYAML))
	if err != nil {
		t.Fatalf("NewFile() unexpected error: %v", err)
	}

	rangers, err := provider.Personnel(t.Context())
	if err != nil {
		t.Fatalf("Personnel() unexpected error: %v", err)
	}

	if len(rangers) != 3 {
		t.Fatalf("Personnel() returned %d rangers, want 3", len(rangers))
	}

	operator := rangers[0]

	if operator.Handle != "Operator" {
		t.Errorf("Handle = %q, want %q", operator.Handle, "Operator")
	}

	if operator.DirectoryID != "Operator" {
		t.Errorf("DirectoryID = %q, want the handle", operator.DirectoryID)
	}

	if !operator.Enabled {
		t.Error("Enabled = false, want the default true when the field is omitted")
	}

	if !operator.Onsite {
		t.Error("Onsite = false, want true")
	}

	if !slices.Equal(operator.Groups, []string{"Operations Manager", "Shift Command"}) {
		t.Errorf("Groups = %v, want both positions in file order", operator.Groups)
	}

	if !VerifyPassword(operator.Password, "password") {
		t.Error("stored password for Operator does not verify")
	}

	if rangers[1].Enabled {
		t.Error("Enabled = true for Tulip, want false from the file")
	}

	if !rangers[2].Enabled {
		t.Error("Enabled = false for Defect, want the default true when omitted")
	}

	if rangers[2].Email != nil {
		t.Errorf("Email = %v for Defect, want none", rangers[2].Email)
	}
}

func TestFileLookupUser(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	provider, err := NewFile(writePersonnelFile(t, personnelYAML))
	if err != nil {
		t.Fatalf("NewFile() unexpected error: %v", err)
	}

	tests := []struct {
		name       string
		searchTerm string
		expected   string
	}{
		{name: "finds by exact handle", searchTerm: "Operator", expected: "Operator"},
		{name: "matches handles case-insensitively", searchTerm: "tULIp", expected: "Tulip"},
		{name: "finds by email address", searchTerm: "tulip@rangers.example.org", expected: "Tulip"},
		{name: "matches email case-insensitively", searchTerm: "TULIP@RANGERS.EXAMPLE.ORG", expected: "Tulip"},
		{name: "finds by secondary email", searchTerm: "operator.fan@example.com", expected: "Tulip"},
		{name: "prefers handle matches over email matches", searchTerm: "operator", expected: "Operator"},
		{name: "finds no one for an unknown term", searchTerm: "khaki", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranger, err := provider.LookupUser(t.Context(), tt.searchTerm)

			if tt.expected == "" {
				if !errors.Is(err, ErrNoSuchUser) {
					t.Errorf("LookupUser(%q) error = %v, want ErrNoSuchUser", tt.searchTerm, err)
				}

				return
			}

			if err != nil {
				t.Fatalf("LookupUser(%q) unexpected error: %v", tt.searchTerm, err)
			}

			if ranger.Handle != tt.expected {
				t.Errorf("LookupUser(%q) = %q, want %q", tt.searchTerm, ranger.Handle, tt.expected)
			}
		})
	}
}

func TestFileAdmins(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	provider, err := NewFile(writePersonnelFile(t, personnelYAML))
	if err != nil {
		t.Fatalf("NewFile() unexpected error: %v", err)
	}

	admins, err := provider.Admins()
	if err != nil {
		t.Fatalf("Admins() unexpected error: %v", err)
	}

	if !slices.Equal(admins, []string{"Operator"}) {
		t.Errorf("Admins() = %v, want [Operator]", admins)
	}
}

func TestNewFileErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("fails for a missing file", func(t *testing.T) {
		_, err := NewFile(filepath.Join(t.TempDir(), "absent.yaml"))
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("NewFile() error = %v, want ErrUnavailable", err)
		}
	})

	t.Run("fails for malformed YAML", func(t *testing.T) {
		_, err := NewFile(writePersonnelFile(t, "users: [unclosed"))
		if err == nil {
			t.Error("NewFile() expected a parse error, got nil")
		}
	})

	t.Run("fails for a user without a handle", func(t *testing.T) {
		_, err := NewFile(writePersonnelFile(t, "users:\n  - status: active\n"))
		if !errors.Is(err, ims.ErrValidation) {
			t.Errorf("NewFile() error = %v, want ErrValidation", err)
		}
	})
}

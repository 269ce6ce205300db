package store

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/go-training/login-consent/pkg/core"

	"gopkg.in/yaml.v3"
)

// DefaultUsers returns the built-in mock user table. Passwords are stored in
// plaintext for compatibility with the legacy mock database; real
// deployments load a user DB file with password_hash entries instead.
func DefaultUsers() []*core.UserRecord {
	return []*core.UserRecord{
		{
			Username: "dino@apigee.com",
			Password: "IloveAPIs",
			Attributes: map[string]any{
				"uuid":              "EA1BA8EB-0A83-46BE-8B05-4C2E827F25B3",
				"motto":             "If this isn't nice, I don't know what is.",
				core.AttrGivenName:  "Dino",
				core.AttrFamilyName: "Chiesa",
				core.AttrRoles:      []string{"read", "edit", "delete"},
			},
		},
		{
			Username: "valerie@example.com",
			Password: "Wizard123",
			Attributes: map[string]any{
				"uuid":              "0B1A8BFF-5000-4868-817E-3C157510C1D9",
				"motto":             "There's no problem that Regular Expressions cannot exacerbate.",
				core.AttrGivenName:  "Valerie",
				core.AttrFamilyName: "Smith",
				core.AttrRoles:      []string{"read"},
			},
		},
		{
			Username: "heidi@example.com",
			Password: "1Performance",
			Attributes: map[string]any{
				"uuid":              "11F795B4-F5FD-4A05-8B8C-BADD30098ABA",
				"motto":             "This is the good part.",
				core.AttrGivenName:  "Heidi",
				core.AttrFamilyName: "Smith",
				core.AttrRoles:      []string{"read"},
			},
		},
		{
			Username: "greg@example.com",
			Password: "Memento4Quiet",
			Attributes: map[string]any{
				"uuid":              "12B1854A-BD79-4857-83C1-29457B3972B8",
				"motto":             "Imagine it, Believe it, Make it Real.",
				core.AttrGivenName:  "Greg",
				core.AttrFamilyName: "Smith",
				core.AttrRoles:      []string{"read", "edit"},
			},
		},
		{
			Username: "naimish@example.com",
			Password: "Imagine4",
			Attributes: map[string]any{
				"uuid":              "12B1854A-BD79-4857-83C1-29457B3972B8",
				"motto":             "Imagine it, Believe it, Make it Real.",
				core.AttrGivenName:  "Naimish",
				core.AttrFamilyName: "Smith",
				core.AttrRoles:      []string{"read", "edit"},
			},
		},
	}
}

// LoadUserDB reads a user DB file. The file is a YAML (or JSON) mapping of
// username to attributes:
//
//	dino@apigee.com:
//	  password_hash: $2a$10$...
//	  given_name: Dino
//	  roles: [read, edit]
func LoadUserDB(path string) ([]*core.UserRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read user db: %w", err)
	}
	return ParseUserDB(data)
}

// ParseUserDB parses user DB content, see LoadUserDB for the format.
func ParseUserDB(data []byte) ([]*core.UserRecord, error) {
	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse user db: %w", err)
	}

	names := slices.Sorted(maps.Keys(raw))
	records := make([]*core.UserRecord, 0, len(names))
	for _, name := range names {
		rec, err := recordFromAttributes(name, raw[name])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordFromAttributes(username string, attrs map[string]any) (*core.UserRecord, error) {
	if username == "" {
		return nil, ErrEmptyUsername
	}

	rec := &core.UserRecord{Username: username, Attributes: map[string]any{}}
	for k, v := range attrs {
		switch k {
		case core.AttrPassword, core.AttrPasswordHash:
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("user %s: %s must be a string", username, k)
			}
			if k == core.AttrPassword {
				rec.Password = s
			} else {
				rec.PasswordHash = s
			}
		case core.AttrHash:
			// legacy field, never exposed
		default:
			rec.Attributes[k] = v
		}
	}
	return rec, nil
}

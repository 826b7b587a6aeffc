package artifact

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Reference locates an artifact either on local disk or at a remote URL.
// The kind is decided once, where the reference is created, and carried with
// the value from then on.
type Reference struct {
	Kind     Kind
	Location string
}

func Local(path string) Reference {
	return Reference{Kind: KindLocal, Location: path}
}

func Remote(url string) Reference {
	return Reference{Kind: KindRemote, Location: url}
}

func (r Reference) IsZero() bool {
	return r.Location == ""
}

func (r Reference) IsLocal() bool {
	return r.Kind == KindLocal && r.Location != ""
}

func (r Reference) IsRemote() bool {
	return r.Kind == KindRemote && r.Location != ""
}

// String renders the tagged form used for persistence, e.g. "local:/data/a.jpg".
func (r Reference) String() string {
	if r.IsZero() {
		return ""
	}
	return string(r.Kind) + ":" + r.Location
}

// Parse reads the tagged form produced by String.
func Parse(s string) (Reference, error) {
	if s == "" {
		return Reference{}, nil
	}
	kind, location, ok := strings.Cut(s, ":")
	if !ok || location == "" {
		return Reference{}, fmt.Errorf("artifact reference %q has no kind tag", s)
	}
	switch Kind(kind) {
	case KindLocal, KindRemote:
		return Reference{Kind: Kind(kind), Location: location}, nil
	default:
		return Reference{}, fmt.Errorf("artifact reference %q has unknown kind %q", s, kind)
	}
}

// Value implements driver.Valuer. The zero reference is stored as NULL.
func (r Reference) Value() (driver.Value, error) {
	if r.IsZero() {
		return nil, nil
	}
	return r.String(), nil
}

// Scan implements sql.Scanner.
func (r *Reference) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = Reference{}
		return nil
	case string:
		ref, err := Parse(v)
		if err != nil {
			return err
		}
		*r = ref
		return nil
	case []byte:
		ref, err := Parse(string(v))
		if err != nil {
			return err
		}
		*r = ref
		return nil
	default:
		return fmt.Errorf("cannot scan %T into artifact.Reference", src)
	}
}

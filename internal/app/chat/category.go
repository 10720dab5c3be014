package chat

import "fmt"

// Category is the closed set of chat categories.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryAnnouncement
	CategoryCoordination
	CategoryTrainingTeam

	// CategoryAutoDirect marks direct rooms created without approval.
	CategoryAutoDirect

	// CategoryApprovedDirect marks direct rooms created after an approved ChatRequest.
	CategoryApprovedDirect
)

var categoryNames = map[Category]string{
	CategoryAnnouncement:   "announcement",
	CategoryCoordination:   "coordination",
	CategoryTrainingTeam:   "trainingTeam",
	CategoryAutoDirect:     "autoDirect",
	CategoryApprovedDirect: "approvedDirect",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// IsValid reports whether c is one of the declared categories.
func (c Category) IsValid() bool {
	_, ok := categoryNames[c]
	return ok
}

// IsDirect reports whether c is used for Direct rooms.
func (c Category) IsDirect() bool {
	return c == CategoryAutoDirect || c == CategoryApprovedDirect
}

// ParseCategory converts the stored text form of a category.
func ParseCategory(s string) (Category, error) {
	for c, name := range categoryNames {
		if name == s {
			return c, nil
		}
	}
	return CategoryUnknown, fmt.Errorf("unknown chat category %q", s)
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(text []byte) error {
	category, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = category
	return nil
}

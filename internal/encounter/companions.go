package encounter

// Companion is one of the four spirit guides a parent can pick after
// crystallization.
type Companion struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Voice    string `json:"voice"`
	Guidance string `json:"guidance"`
}

// DefaultCompanionID is used when a session has no companion recorded.
const DefaultCompanionID = "owl"

var companions = map[string]Companion{
	"owl": {
		ID:       "owl",
		Name:     "The Owl",
		Voice:    "wise and contemplative, speaking in gentle metaphors about seeing clearly",
		Guidance: "helps you find perspective and wisdom",
	},
	"fox": {
		ID:       "fox",
		Name:     "The Fox",
		Voice:    "clever and curious, playfully uncovering hidden truths",
		Guidance: "helps you find creative solutions and adaptability",
	},
	"bear": {
		ID:       "bear",
		Name:     "The Bear",
		Voice:    "strong and grounding, offering steadfast presence",
		Guidance: "helps you find your inner strength and stand firm",
	},
	"deer": {
		ID:       "deer",
		Name:     "The Deer",
		Voice:    "gentle and intuitive, attuned to subtle feelings",
		Guidance: "helps you find gentleness and trust your instincts",
	},
}

// CompanionByID resolves a companion, defaulting to the owl for unknown ids.
func CompanionByID(id string) Companion {
	if c, ok := companions[id]; ok {
		return c
	}
	return companions[DefaultCompanionID]
}

// ValidCompanionID reports whether id names a known companion.
func ValidCompanionID(id string) bool {
	_, ok := companions[id]
	return ok
}

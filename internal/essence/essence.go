// Package essence defines the fixed ontology of essence archetypes that
// reflection chips and accumulated scores are keyed on.
//
// The ontology is closed: every essence id the service emits is a member of
// this table. Content that falls outside it is coerced to the null essence.
package essence

// Archetype describes one essence in the ontology.
type Archetype struct {
	ID          string `json:"id"`
	Frequency   int    `json:"frequency"` // 47, 55, 66, or 0 for the null essence
	Plane       string `json:"plane"`     // emotional | action | meaning | null
	Name        string `json:"name"`
	Description string `json:"description"`
	Element     string `json:"element"`
	Polarity    string `json:"polarity,omitempty"` // lunar | solar | natural | arcana | micro | macro
}

// NullEssenceID is the veto/noise sentinel. Chips whose essence id falls
// outside the whitelist are coerced to it and hidden.
const NullEssenceID = "00_esencia_nula"

// ontology holds every known archetype keyed by id.
var ontology = map[string]Archetype{
	// Frequency 47, emotional plane, lunar (shadow-side)
	"47_agua_lunar": {
		ID: "47_agua_lunar", Frequency: 47, Plane: "emotional",
		Name:        "Sadness / Grief / Melancholy",
		Description: "Felt loss, nostalgia, feeling left behind",
		Element:     "water", Polarity: "lunar",
	},
	"47_aire_lunar": {
		ID: "47_aire_lunar", Frequency: 47, Plane: "emotional",
		Name:        "Guilt / Shame / Self-Disgust",
		Description: "Harsh moral self-critique, 'I'm bad / worthless'",
		Element:     "air", Polarity: "lunar",
	},
	"47_fuego_lunar": {
		ID: "47_fuego_lunar", Frequency: 47, Plane: "emotional",
		Name:        "Anger / Resentment / Injustice Rage",
		Description: "Attack-energy aimed at what feels unfair",
		Element:     "fire", Polarity: "lunar",
	},
	"47_tierra_lunar": {
		ID: "47_tierra_lunar", Frequency: 47, Plane: "emotional",
		Name:        "Fear / Anxiety / Insecurity",
		Description: "Threat-sense, instability, anticipation of disaster",
		Element:     "earth", Polarity: "lunar",
	},
	// Frequency 47, emotional plane, solar (light-side)
	"47_agua_solar": {
		ID: "47_agua_solar", Frequency: 47, Plane: "emotional",
		Name:        "Relief / Release / Flow",
		Description: "Tension discharge, letting go",
		Element:     "water", Polarity: "solar",
	},
	"47_aire_solar": {
		ID: "47_aire_solar", Frequency: 47, Plane: "emotional",
		Name:        "Clarity / Perspective / Lightness",
		Description: "Internal order, clearer perception",
		Element:     "air", Polarity: "solar",
	},
	"47_fuego_solar": {
		ID: "47_fuego_solar", Frequency: 47, Plane: "emotional",
		Name:        "Courage / Just Anger / Energy to Act",
		Description: "Anger channeled into change",
		Element:     "fire", Polarity: "solar",
	},
	"47_tierra_solar": {
		ID: "47_tierra_solar", Frequency: 47, Plane: "emotional",
		Name:        "Safety / Grounding / Stability",
		Description: "Solid ground, containment, steadiness",
		Element:     "earth", Polarity: "solar",
	},
	"47_eter_puro": {
		ID: "47_eter_puro", Frequency: 47, Plane: "emotional",
		Name:        "Playful Joy",
		Description: "Enjoyment not tied to productivity/utility; requires absence of aggression/sarcasm/cynicism",
		Element:     "ether", Polarity: "solar",
	},
	// Frequency 55, action plane, natural (spontaneous)
	"55_fuego_natural": {
		ID: "55_fuego_natural", Frequency: 55, Plane: "action",
		Name:        "Impulsive / Energetic Action",
		Description: "Sudden confront, slam door, 'I'll say it now'",
		Element:     "fire", Polarity: "natural",
	},
	"55_agua_natural": {
		ID: "55_agua_natural", Frequency: 55, Plane: "action",
		Name:        "Spontaneous Self-Care",
		Description: "Rest, bath, take a break",
		Element:     "water", Polarity: "natural",
	},
	"55_aire_natural": {
		ID: "55_aire_natural", Frequency: 55, Plane: "action",
		Name:        "Explore Ideas / Talk It Out",
		Description: "Tell a friend, speak with someone trusted",
		Element:     "air", Polarity: "natural",
	},
	"55_tierra_natural": {
		ID: "55_tierra_natural", Frequency: 55, Plane: "action",
		Name:        "Everyday Stabilizing Habits",
		Description: "Walk more, cook simple food, tidy a space",
		Element:     "earth", Polarity: "natural",
	},
	"55_eter_natural": {
		ID: "55_eter_natural", Frequency: 55, Plane: "action",
		Name:        "Spontaneous Creative Exploration",
		Description: "Write/draw without objective",
		Element:     "ether", Polarity: "natural",
	},
	// Frequency 55, action plane, arcana (structured program)
	"55_fuego_arcana": {
		ID: "55_fuego_arcana", Frequency: 55, Plane: "action",
		Name:        "Structured Effort Routine",
		Description: "E.g., train 3x/week for a month",
		Element:     "fire", Polarity: "arcana",
	},
	"55_agua_arcana": {
		ID: "55_agua_arcana", Frequency: 55, Plane: "action",
		Name:        "Emotion Regulation Program",
		Description: "Sleep routine, nightly emotion log",
		Element:     "water", Polarity: "arcana",
	},
	"55_aire_arcana": {
		ID: "55_aire_arcana", Frequency: 55, Plane: "action",
		Name:        "Structured Cognitive Work",
		Description: "Thought record, behavioral experiment",
		Element:     "air", Polarity: "arcana",
	},
	"55_tierra_arcana": {
		ID: "55_tierra_arcana", Frequency: 55, Plane: "action",
		Name:        "Structured Hygiene / Plan",
		Description: "Follow a meal plan 2 weeks, 30-day sleep routine",
		Element:     "earth", Polarity: "arcana",
	},
	"55_eter_arcana": {
		ID: "55_eter_arcana", Frequency: 55, Plane: "action",
		Name:        "Guided Creative Program",
		Description: "Writing course, X-day creativity program",
		Element:     "ether", Polarity: "arcana",
	},
	// Frequency 66, meaning plane, micro (inward)
	"66_fuego_choice_micro": {
		ID: "66_fuego_choice_micro", Frequency: 66, Plane: "meaning",
		Name:        "Inner Decision",
		Description: "Choosing for yourself, even without a detailed plan yet",
		Element:     "fire", Polarity: "micro",
	},
	"66_agua_values_micro": {
		ID: "66_agua_values_micro", Frequency: 66, Plane: "meaning",
		Name:        "Personal Values",
		Description: "What matters to me beyond external pressure",
		Element:     "water", Polarity: "micro",
	},
	"66_tierra_appreciation_micro": {
		ID: "66_tierra_appreciation_micro", Frequency: 66, Plane: "meaning",
		Name:        "Self-Appreciation",
		Description: "Recognizing your qualities; tending your own ground",
		Element:     "earth", Polarity: "micro",
	},
	"66_aire_acceptance_micro": {
		ID: "66_aire_acceptance_micro", Frequency: 66, Plane: "meaning",
		Name:        "Accepting Limits",
		Description: "Some things can't be controlled; that doesn't invalidate the person",
		Element:     "air", Polarity: "micro",
	},
	"66_eter_potential_micro": {
		ID: "66_eter_potential_micro", Frequency: 66, Plane: "meaning",
		Name:        "Recognizing Inner Potential",
		Description: "'I could become...', without empty fantasy",
		Element:     "ether", Polarity: "micro",
	},
	"66_luz_telos_micro": {
		ID: "66_luz_telos_micro", Frequency: 66, Plane: "meaning",
		Name:        "Personal Meaning (Intimate Telos)",
		Description: "What kind of life/story I want to live",
		Element:     "light", Polarity: "micro",
	},
	// Frequency 66, meaning plane, macro (outward)
	"66_fuego_choice_macro": {
		ID: "66_fuego_choice_macro", Frequency: 66, Plane: "meaning",
		Name:        "Leadership / Facilitation",
		Description: "Opening paths for others; proposing, organizing",
		Element:     "fire", Polarity: "macro",
	},
	"66_agua_values_macro": {
		ID: "66_agua_values_macro", Frequency: 66, Plane: "meaning",
		Name:        "Shared Culture / Values",
		Description: "Creating or sustaining environments with clear values",
		Element:     "water", Polarity: "macro",
	},
	"66_tierra_appreciation_macro": {
		ID: "66_tierra_appreciation_macro", Frequency: 66, Plane: "meaning",
		Name:        "Appreciating Others",
		Description: "Valuing others' effort/virtue without servility",
		Element:     "earth", Polarity: "macro",
	},
	"66_aire_acceptance_macro": {
		ID: "66_aire_acceptance_macro", Frequency: 66, Plane: "meaning",
		Name:        "Diplomacy / Healing Friction",
		Description: "Mediating, lowering conflict, enabling complex coexistence",
		Element:     "air", Polarity: "macro",
	},
	"66_eter_potential_macro": {
		ID: "66_eter_potential_macro", Frequency: 66, Plane: "meaning",
		Name:        "Mentoring / Opening Doors",
		Description: "Supporting others' potential (opportunities, resources)",
		Element:     "ether", Polarity: "macro",
	},
	"66_luz_telos_macro": {
		ID: "66_luz_telos_macro", Frequency: 66, Plane: "meaning",
		Name:        "Shared Mission / Group Alignment",
		Description: "Collective projects with purpose beyond immediate interests",
		Element:     "light", Polarity: "macro",
	},
	// Null essence (veto / noise)
	NullEssenceID: {
		ID: NullEssenceID, Frequency: 0, Plane: "null",
		Name:        "Nula (Veto/Noise)",
		Description: "Used when content is disrespectful/toxic or outside the whitelist",
		Element:     "void",
	},
}

// whitelist is the stable ordering of essence ids, grouped by frequency.
var whitelist = []string{
	"47_agua_lunar", "47_aire_lunar", "47_fuego_lunar", "47_tierra_lunar",
	"47_agua_solar", "47_aire_solar", "47_fuego_solar", "47_tierra_solar",
	"47_eter_puro",
	"55_fuego_natural", "55_agua_natural", "55_aire_natural", "55_tierra_natural", "55_eter_natural",
	"55_fuego_arcana", "55_agua_arcana", "55_aire_arcana", "55_tierra_arcana", "55_eter_arcana",
	"66_fuego_choice_micro", "66_agua_values_micro", "66_tierra_appreciation_micro",
	"66_aire_acceptance_micro", "66_eter_potential_micro", "66_luz_telos_micro",
	"66_fuego_choice_macro", "66_agua_values_macro", "66_tierra_appreciation_macro",
	"66_aire_acceptance_macro", "66_eter_potential_macro", "66_luz_telos_macro",
	NullEssenceID,
}

// Lookup returns the archetype for the given id.
func Lookup(id string) (Archetype, bool) {
	a, ok := ontology[id]
	return a, ok
}

// IsValid reports whether id is a member of the ontology.
func IsValid(id string) bool {
	_, ok := ontology[id]
	return ok
}

// Whitelist returns a copy of the ordered essence id list.
func Whitelist() []string {
	out := make([]string, len(whitelist))
	copy(out, whitelist)
	return out
}

// Name returns the display name for an essence id, or the id itself when
// the id is unknown.
func Name(id string) string {
	if a, ok := ontology[id]; ok {
		return a.Name
	}
	return id
}

package loop

import (
	"strings"

	"github.com/reverie-app/reverie/internal/models"
)

// shadowsCatalog is the fixed set of family topics a parent can pick from.
// Custom shadows live outside the catalog under models.CustomShadowID.
var shadowsCatalog = []models.ShadowInfo{
	{ID: "shadow_phone_use", Label: "Phone Use", Description: "Screen time, device usage, and digital balance."},
	{ID: "shadow_school_stress", Label: "School Stress", Description: "Grades, homework, and academic pressure."},
	{ID: "shadow_curfew", Label: "Curfew & Going Out", Description: "Coming home time, safety, and communication."},
	{ID: "shadow_trust", Label: "Trust & Privacy", Description: "Secrets, privacy boundaries, and honesty."},
	{ID: "shadow_chores", Label: "Chores & Responsibilities", Description: "Helping around the house and daily tasks."},
	{ID: "shadow_respect", Label: "Tone & Respect", Description: "How we speak to each other and mutual respect."},
}

// greetingLabels phrases each catalog shadow for the opening greeting.
var greetingLabels = map[string]string{
	"shadow_phone_use":     "phone and screen time",
	"shadow_school_stress": "school and academic pressure",
	"shadow_curfew":        "curfew and going out",
	"shadow_trust":         "trust and privacy",
	"shadow_chores":        "chores and responsibilities",
	"shadow_respect":       "tone and respect",
}

// ShadowsCatalog returns a copy of the shadow catalog.
func ShadowsCatalog() []models.ShadowInfo {
	out := make([]models.ShadowInfo, len(shadowsCatalog))
	copy(out, shadowsCatalog)
	return out
}

// GreetingLabel returns the greeting phrase for a shadow id.
func GreetingLabel(shadowID string) string {
	if label, ok := greetingLabels[shadowID]; ok {
		return label
	}
	return "this topic"
}

// SessionShadowLabel resolves the display label for a session's shadow,
// falling back to the custom text for user-defined shadows.
func SessionShadowLabel(s *models.Session) string {
	for _, shadow := range shadowsCatalog {
		if shadow.ID == s.ShadowID {
			return shadow.Label
		}
	}
	if s.ShadowCustom != "" {
		return s.ShadowCustom
	}
	return "your topic"
}

// EncounterShadowLabel derives the encounter-facing label from the shadow id
// by stripping the prefix and underscores.
func EncounterShadowLabel(shadowID string) string {
	if shadowID == "" || shadowID == models.CustomShadowID {
		return "your shadow"
	}
	label := strings.TrimPrefix(shadowID, "shadow_")
	return strings.ReplaceAll(label, "_", " ")
}

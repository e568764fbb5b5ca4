package providers

import (
	"log/slog"
)

// Default models used when a recipe leaves the choice to the engine.
const (
	DefaultImageModel = "nano-banana-pro"
	DefaultVideoModel = "veo-3.1"
)

// Default providers for the default models.
const (
	DefaultImageProvider = "google"
	DefaultVideoProvider = "google"
)

type priceKey struct {
	model    string
	provider string
}

// retailPrices is what a user is charged per generated asset.
var retailPrices = map[priceKey]float64{
	{"nano-banana", "google"}:         0.04,
	{"nano-banana", "kie"}:            0.09,
	{"nano-banana", "higgsfield"}:     0.04,
	{"nano-banana-pro", "google"}:     0.13,
	{"nano-banana-pro", "kie"}:        0.09,
	{"nano-banana-pro", "higgsfield"}: 0.13,
	{"gpt-image-1.5", "wavespeed"}:    0.07,
	{"veo-3.1", "google"}:             0.50,
	{"kling-3.0", "kie"}:              0.30,
	{"kling-3.0", "wavespeed"}:        0.30,
	{"sora-2-pro", "kie"}:             0.30,
	{"sora-2-pro", "wavespeed"}:       0.30,
	{"sora-2", "wavespeed"}:           0.30,
	{"seedance", "higgsfield"}:        0.08,
	{"minimax", "higgsfield"}:         0.08,
	{"gemini-tts", "gemini"}:          0,
	{"speak-v2", "higgsfield"}:        0.15,
	{"talking-photo", "higgsfield"}:   0.10,
	{"infinitetalk", "wavespeed"}:     0.20,
}

// actualPrices is what the provider bills. Missing pairs fall back to retail.
var actualPrices = map[priceKey]float64{
	{"nano-banana", "google"}:         0,
	{"nano-banana", "higgsfield"}:     0,
	{"nano-banana-pro", "google"}:     0,
	{"nano-banana-pro", "higgsfield"}: 0,
	{"nano-banana", "kie"}:            0.09,
	{"nano-banana-pro", "kie"}:        0.09,
	{"gpt-image-1.5", "wavespeed"}:    0.07,
	{"veo-3.1", "google"}:             0,
	{"kling-3.0", "kie"}:              0.30,
	{"kling-3.0", "wavespeed"}:        0.30,
	{"sora-2-pro", "kie"}:             0.30,
	{"sora-2-pro", "wavespeed"}:       0.30,
	{"sora-2", "wavespeed"}:           0.30,
	{"seedance", "higgsfield"}:        0.03,
	{"minimax", "higgsfield"}:         0.03,
	{"gemini-tts", "gemini"}:          0,
	{"speak-v2", "higgsfield"}:        0.05,
	{"talking-photo", "higgsfield"}:   0.03,
	{"infinitetalk", "wavespeed"}:     0.20,
}

// RetailCost returns the user-facing price of one asset. Unknown pairs cost 0.
func RetailCost(model, provider string) float64 {
	price, ok := retailPrices[priceKey{model, provider}]
	if !ok {
		slog.Debug("no retail price", "model", model, "provider", provider)
		return 0
	}
	return price
}

// ActualCost returns what the provider bills for one asset.
func ActualCost(model, provider string) float64 {
	if price, ok := actualPrices[priceKey{model, provider}]; ok {
		return price
	}
	return RetailCost(model, provider)
}

// KnownPrice reports whether a retail price exists for the pair.
func KnownPrice(model, provider string) bool {
	_, ok := retailPrices[priceKey{model, provider}]
	return ok
}

// Voices maps the voice choices offered to users onto TTS voice names.
var Voices = map[string]string{
	"natural_female":   "Kore",
	"natural_male":     "Charon",
	"energetic_female": "Aoede",
	"energetic_male":   "Puck",
	"calm_female":      "Leda",
	"calm_male":        "Orus",
}

// VoiceName resolves a voice choice, defaulting to the natural female voice.
func VoiceName(choice string) string {
	if v, ok := Voices[choice]; ok {
		return v
	}
	return Voices["natural_female"]
}

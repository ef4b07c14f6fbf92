package enums

import "fmt"

// GenerationType identifies the kind of artifact a model produces.
type GenerationType string

const (
	GenerationImage GenerationType = "image"
	GenerationVideo GenerationType = "video"
	GenerationAudio GenerationType = "audio"
	GenerationText  GenerationType = "text"
)

var validGenerationTypes = []GenerationType{
	GenerationImage,
	GenerationVideo,
	GenerationAudio,
	GenerationText,
}

// String returns the literal string for the type.
func (g GenerationType) String() string {
	return string(g)
}

// IsValid reports whether the type is known.
func (g GenerationType) IsValid() bool {
	for _, candidate := range validGenerationTypes {
		if candidate == g {
			return true
		}
	}
	return false
}

// Persistable reports whether outputs of this type are files that land in the gallery.
func (g GenerationType) Persistable() bool {
	return g == GenerationImage || g == GenerationVideo || g == GenerationAudio
}

// DefaultExtension is used when neither the URL nor the payload reveal a format.
func (g GenerationType) DefaultExtension() string {
	switch g {
	case GenerationVideo:
		return "mp4"
	case GenerationAudio:
		return "mp3"
	case GenerationText:
		return "txt"
	default:
		return "png"
	}
}

// ParseGenerationType converts raw input into a GenerationType.
func ParseGenerationType(value string) (GenerationType, error) {
	for _, candidate := range validGenerationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid generation type %q", value)
}

// BillingUnit controls how a model price is applied.
type BillingUnit string

const (
	BillingFlat      BillingUnit = "flat"
	BillingPerSecond BillingUnit = "per_second"
)

// IsValid reports whether the unit is known.
func (b BillingUnit) IsValid() bool {
	return b == BillingFlat || b == BillingPerSecond
}

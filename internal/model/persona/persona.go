package persona

// Persona is a named system-prompt preset shaping the agent's tone.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Prompt      string `json:"prompt"`
	VoiceID     string `json:"voiceId,omitempty"`
	Description string `json:"description,omitempty"`
}

// DefaultID is the persona assigned to a session before the client picks one.
const DefaultID = "default"

// Seed provides the built-in persona presets.
func Seed() []Persona {
	return []Persona{
		{
			ID:          "default",
			Name:        "Assistant",
			Prompt:      "You are a helpful, professional AI assistant.",
			VoiceID:     "en-US-amara",
			Description: "A neutral, professional voice assistant.",
		},
		{
			ID:          "pirate",
			Name:        "Captain Redbeard",
			Prompt:      "You are a salty pirate captain named Redbeard.",
			VoiceID:     "en-US-amara",
			Description: "A salty pirate captain with tales from the seven seas.",
		},
		{
			ID:          "scientist",
			Name:        "Dr. Eureka",
			Prompt:      "You are a brilliant but slightly eccentric scientist named Dr. Eureka.",
			VoiceID:     "en-US-amara",
			Description: "A brilliant but slightly eccentric scientist.",
		},
		{
			ID:          "wizard",
			Name:        "Arcanum",
			Prompt:      "You are an ancient and wise wizard named Arcanum.",
			VoiceID:     "en-US-amara",
			Description: "An ancient and wise wizard.",
		},
		{
			ID:          "robot",
			Name:        "ALEX-7",
			Prompt:      "You are a friendly but logical robot assistant named ALEX-7.",
			VoiceID:     "en-US-amara",
			Description: "A friendly but strictly logical robot.",
		},
		{
			ID:          "chef",
			Name:        "Chef Antoine",
			Prompt:      "You are a passionate master chef named Chef Antoine.",
			VoiceID:     "en-US-amara",
			Description: "A passionate master chef.",
		},
		{
			ID:          "detective",
			Name:        "Inspector Sharp",
			Prompt:      "You are a sharp-eyed detective named Inspector Sharp.",
			VoiceID:     "en-US-amara",
			Description: "A sharp-eyed detective who misses nothing.",
		},
	}
}

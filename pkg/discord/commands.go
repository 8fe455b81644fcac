package discord

// Midjourney bot identity and its published application commands. The ids are
// stable upstream values; versions occasionally roll and can be overridden
// through configuration if they do.
const (
	MidjourneyBotID = "936929561302675456"
	NijiBotID       = "1022952195194359889"
	MidjourneyAppID = "936929561302675456"
)

// ApplicationCommand describes one slash command as the interactions endpoint
// expects it to be referenced.
type ApplicationCommand struct {
	ID      string
	Version string
	Name    string
	Type    int
}

// KnownCommands maps command name to its upstream registration.
func KnownCommands() map[string]ApplicationCommand {
	return map[string]ApplicationCommand{
		"imagine": {
			ID:      "938956540159881230",
			Version: "1237876415471554623",
			Name:    "imagine",
			Type:    1,
		},
		"blend": {
			ID:      "1062880104792997970",
			Version: "1237876415471554624",
			Name:    "blend",
			Type:    1,
		},
		"describe": {
			ID:      "1092492867185950852",
			Version: "1237876415471554625",
			Name:    "describe",
			Type:    1,
		},
		"show": {
			ID:      "971614926084685864",
			Version: "1237876415471554626",
			Name:    "show",
			Type:    1,
		},
		"info": {
			ID:      "972289487818334209",
			Version: "1237876415471554627",
			Name:    "info",
			Type:    1,
		},
		"settings": {
			ID:      "972289487818334210",
			Version: "1237876415471554628",
			Name:    "settings",
			Type:    1,
		},
		"fast": {
			ID:      "972289487818334212",
			Version: "1237876415471554629",
			Name:    "fast",
			Type:    1,
		},
		"relax": {
			ID:      "972289487818334213",
			Version: "1237876415471554630",
			Name:    "relax",
			Type:    1,
		},
	}
}

// IsBotAuthor reports whether the message was authored by one of the image
// bots the proxy drives. Foreign traffic on shared channels is dropped early.
func (m *Message) IsBotAuthor() bool {
	if m.Author == nil {
		return false
	}
	id := m.Author.ID.String()
	return id == MidjourneyBotID || id == NijiBotID
}

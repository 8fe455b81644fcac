package discord

import (
	"encoding/json"
	"fmt"
)

// Snowflake is a Discord id. The wire sometimes carries nonces as JSON
// numbers, so it accepts both forms, same trick as allow_from lists.
type Snowflake string

func (s *Snowflake) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = Snowflake(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("snowflake: cannot decode %s", string(data))
	}
	*s = Snowflake(num.String())
	return nil
}

func (s Snowflake) String() string { return string(s) }

// Payload is the gateway envelope: opcode, optional sequence, optional
// dispatch event name, opaque data.
type Payload struct {
	Op   int             `json:"op"`
	Seq  *int64          `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

// HelloData arrives with OpHello.
type HelloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// ReadyData arrives as the READY dispatch after a fresh identify.
type ReadyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
	User             User   `json:"user"`
}

type User struct {
	ID       Snowflake `json:"id"`
	Username string    `json:"username"`
	Bot      bool      `json:"bot"`
}

type Attachment struct {
	ID       Snowflake `json:"id"`
	URL      string    `json:"url"`
	ProxyURL string    `json:"proxy_url"`
	Filename string    `json:"filename"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Size     int64     `json:"size"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

type EmbedImage struct {
	URL string `json:"url"`
}

type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
}

type Emoji struct {
	Name string `json:"name"`
}

// Component is both the action-row container (Type 1) and the button (Type 2).
type Component struct {
	Type       int         `json:"type"`
	Label      string      `json:"label,omitempty"`
	Style      int         `json:"style,omitempty"`
	CustomID   string      `json:"custom_id,omitempty"`
	Emoji      *Emoji      `json:"emoji,omitempty"`
	Components []Component `json:"components,omitempty"`
}

// InteractionMetadata carries the id the platform assigned when it
// acknowledged a command. It is the secondary correlation key: the final
// result message can reference an id different from the first ack.
type InteractionMetadata struct {
	ID   Snowflake `json:"id"`
	Name string    `json:"name"`
}

type MessageReference struct {
	MessageID Snowflake `json:"message_id"`
	ChannelID Snowflake `json:"channel_id"`
}

// Message is the MESSAGE_CREATE / MESSAGE_UPDATE dispatch payload, reduced to
// the fields correlation cares about.
type Message struct {
	ID                  Snowflake            `json:"id"`
	ChannelID           Snowflake            `json:"channel_id"`
	GuildID             Snowflake            `json:"guild_id"`
	Content             string               `json:"content"`
	Author              *User                `json:"author,omitempty"`
	Nonce               Snowflake            `json:"nonce,omitempty"`
	Embeds              []Embed              `json:"embeds,omitempty"`
	Attachments         []Attachment         `json:"attachments,omitempty"`
	Components          []Component          `json:"components,omitempty"`
	Interaction         *InteractionMetadata `json:"interaction,omitempty"`
	InteractionMetadata *InteractionMetadata `json:"interaction_metadata,omitempty"`
	MessageReference    *MessageReference    `json:"message_reference,omitempty"`
	Flags               int                  `json:"flags"`
	Timestamp           string               `json:"timestamp"`
}

// InteractionMetadataID prefers the newer interaction_metadata field and
// falls back to the legacy interaction object.
func (m *Message) InteractionMetadataID() string {
	if m.InteractionMetadata != nil && m.InteractionMetadata.ID != "" {
		return m.InteractionMetadata.ID.String()
	}
	if m.Interaction != nil {
		return m.Interaction.ID.String()
	}
	return ""
}

// MessageClass tags how a dispatch reached us.
type MessageClass string

const (
	ClassCreate MessageClass = "CREATE"
	ClassUpdate MessageClass = "UPDATE"
	ClassDelete MessageClass = "DELETE"
)

// MessageEvent is what the gateway hands to the correlation pipeline.
type MessageEvent struct {
	Class   MessageClass
	Message Message
	Raw     []byte
}

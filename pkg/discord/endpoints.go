package discord

import "fmt"

// Endpoints groups the upstream URLs. Every one of them can be overridden
// from configuration so the proxy can sit behind mirrors or reverse proxies.
type Endpoints struct {
	Gateway string
	Rest    string
	CDN     string
	WSS     string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Gateway: "wss://gateway.discord.gg",
		Rest:    "https://discord.com",
		CDN:     "https://cdn.discordapp.com",
		WSS:     "wss://gateway.discord.gg",
	}
}

// GatewayURL is the dial target. Compression is negotiated for the whole
// session, not per frame.
func (e Endpoints) GatewayURL() string {
	base := e.Gateway
	if base == "" {
		base = DefaultEndpoints().Gateway
	}
	return base + "/?encoding=json&v=9&compress=zlib-stream"
}

func (e Endpoints) InteractionsURL() string {
	return e.restBase() + "/api/v9/interactions"
}

func (e Endpoints) AttachmentsURL(channelID string) string {
	return fmt.Sprintf("%s/api/v9/channels/%s/attachments", e.restBase(), channelID)
}

func (e Endpoints) MessagesURL(channelID string) string {
	return fmt.Sprintf("%s/api/v9/channels/%s/messages", e.restBase(), channelID)
}

func (e Endpoints) restBase() string {
	if e.Rest == "" {
		return DefaultEndpoints().Rest
	}
	return e.Rest
}

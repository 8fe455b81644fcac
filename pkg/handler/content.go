package handler

import (
	"regexp"
	"strings"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/discord"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/task"
)

// The bot wraps the echoed prompt in bold markers and appends a status
// suffix: "**a red apple --v 6** - <@123> (fast)".
var (
	contentPattern  = regexp.MustCompile(`\*\*(.*?)\*\* - (.*)`)
	progressPattern = regexp.MustCompile(`\((\d{1,3})%\)`)
	upscalePattern  = regexp.MustCompile(`Image #(\d)`)
)

type parsedContent struct {
	Prompt string
	Suffix string
}

func parseContent(content string) (parsedContent, bool) {
	m := contentPattern.FindStringSubmatch(content)
	if m == nil {
		return parsedContent{}, false
	}
	return parsedContent{Prompt: m[1], Suffix: m[2]}, true
}

// isPlaceholder recognizes the transient "job accepted" stub that precedes
// real progress. It must not be matched as a completion.
func isPlaceholder(content string) bool {
	return strings.Contains(content, "(Waiting to start)")
}

func isStopped(content string) bool {
	return strings.Contains(content, "(Stopped)")
}

// progressPercent extracts "31%" from a progress edit, or "" when the content
// carries no percentage.
func progressPercent(content string) string {
	m := progressPattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return m[1] + "%"
}

// completionSuffix reports whether the suffix marks a finished render: the
// bot tags completed messages with the speed mode it ran under.
func completionSuffix(suffix string) bool {
	for _, mode := range []string{"(fast)", "(relaxed)", "(turbo)", "(fast, stealth)", "(relaxed, stealth)", "(turbo, stealth)"} {
		if strings.Contains(suffix, mode) {
			return true
		}
	}
	return false
}

func firstAttachmentURL(m *discord.Message) string {
	if len(m.Attachments) == 0 {
		return ""
	}
	return m.Attachments[0].URL
}

// messageHash derives the content hash from the attachment filename, which
// ends in "_<hash>.<ext>". Follow-up button actions embed this hash in their
// custom ids.
func messageHash(imageURL string) string {
	name := imageURL
	if idx := strings.LastIndexByte(name, '?'); idx >= 0 {
		name = name[:idx]
	}
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		name = name[:idx]
	}
	if idx := strings.LastIndexByte(name, '_'); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// buttonsFrom flattens the action rows of a final message into the buttons a
// caller can replay as follow-up actions.
func buttonsFrom(components []discord.Component) []task.Button {
	var out []task.Button
	for _, row := range components {
		for _, c := range row.Components {
			if c.Type != 2 || c.CustomID == "" {
				continue
			}
			b := task.Button{
				CustomID: c.CustomID,
				Label:    c.Label,
				Style:    c.Style,
				Type:     c.Type,
			}
			if c.Emoji != nil {
				b.Emoji = c.Emoji.Name
			}
			out = append(out, b)
		}
	}
	return out
}

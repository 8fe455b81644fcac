package handler

import (
	"testing"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/discord"
)

func TestNormalizePrompt(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a cute cat --ar 16:9", "acutecat"},
		{" A Cute Cat ", "acutecat"},
		{"a cute cat", "acutecat"},
		{"red apple --v 6 --q 2", "redapple"},
		{"https://s.mj.run/abc photo of a dog", "<link>photoofadog"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := NormalizePrompt(tc.in); got != tc.want {
			t.Fatalf("NormalizePrompt(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPromptsMatch(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"acutecat", "acutecat", true},
		{"acutecat", "acutecatsittingdown", true}, // prefix containment
		{"sittingdown", "acutecatsittingdown", true},
		{"acutecat", "abluedog", false},
		{"", "acutecat", false},
	}
	for _, tc := range tests {
		if got := promptsMatch(tc.a, tc.b); got != tc.want {
			t.Fatalf("promptsMatch(%q, %q) = %v", tc.a, tc.b, got)
		}
	}
}

func TestParseContent(t *testing.T) {
	pc, ok := parseContent("**a red apple --v 6** - <@123> (fast)")
	if !ok {
		t.Fatalf("content did not parse")
	}
	if pc.Prompt != "a red apple --v 6" {
		t.Fatalf("prompt = %q", pc.Prompt)
	}
	if pc.Suffix != "<@123> (fast)" {
		t.Fatalf("suffix = %q", pc.Suffix)
	}

	if _, ok := parseContent("just chatter"); ok {
		t.Fatalf("plain text must not parse")
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"**a red apple** - (31%) (fast)", "31%"},
		{"**a red apple** - (100%) (fast)", "100%"},
		{"**a red apple** - <@1> (fast)", ""},
	}
	for _, tc := range tests {
		if got := progressPercent(tc.in); got != tc.want {
			t.Fatalf("progressPercent(%q) = %q", tc.in, got)
		}
	}
}

func TestMessageHash(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://cdn.example/attachments/1/2/a_red_apple_8a2f9c1d.png", "8a2f9c1d"},
		{"https://cdn.example/grid_0f3e.webp?width=512", "0f3e"},
		{"https://cdn.example/nohash.png", "nohash"},
	}
	for _, tc := range tests {
		if got := messageHash(tc.in); got != tc.want {
			t.Fatalf("messageHash(%q) = %q", tc.in, got)
		}
	}
}

func TestButtonsFromFlattensRows(t *testing.T) {
	components := []discord.Component{
		{Type: 1, Components: []discord.Component{
			{Type: 2, CustomID: "MJ::JOB::upsample::1::h", Label: "U1", Style: 2},
			{Type: 2, CustomID: "MJ::JOB::upsample::2::h", Label: "U2", Style: 2},
			{Type: 2, CustomID: "MJ::JOB::reroll::0::h", Emoji: &discord.Emoji{Name: "🔄"}, Style: 2},
		}},
		{Type: 1, Components: []discord.Component{
			{Type: 2, CustomID: "MJ::JOB::variation::1::h", Label: "V1", Style: 2},
			{Type: 2, Label: "no custom id"},
		}},
	}

	buttons := buttonsFrom(components)
	if len(buttons) != 4 {
		t.Fatalf("buttons = %d", len(buttons))
	}
	if buttons[2].Emoji != "🔄" {
		t.Fatalf("emoji = %q", buttons[2].Emoji)
	}
	if buttons[3].CustomID != "MJ::JOB::variation::1::h" {
		t.Fatalf("last button = %+v", buttons[3])
	}
}

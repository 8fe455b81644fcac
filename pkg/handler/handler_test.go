package handler

import (
	"testing"
	"time"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/cache"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/discord"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/task"
)

type fakeView struct {
	running   []*task.Task
	finished  []*task.Task
	challenge string
}

func (v *fakeView) AccountID() string { return "acct-1" }

func (v *fakeView) RunningTasks() []*task.Task { return v.running }

func (v *fakeView) FindRunning(match func(*task.Task) bool) *task.Task {
	for _, t := range v.running {
		if match(t) {
			return t
		}
	}
	return nil
}

func (v *fakeView) FinishTask(t *task.Task) { v.finished = append(v.finished, t) }

func (v *fakeView) MarkChallenge(url string) { v.challenge = url }

func newTestPipeline(t *testing.T, running ...*task.Task) (*Pipeline, *fakeView) {
	t.Helper()
	view := &fakeView{running: running}
	return NewPipeline(view, cache.NewDedup(time.Minute, 100), nil), view
}

type msgOpt func(*discord.Message)

func withNonce(nonce string) msgOpt {
	return func(m *discord.Message) { m.Nonce = discord.Snowflake(nonce) }
}

func withInteraction(id string) msgOpt {
	return func(m *discord.Message) {
		m.InteractionMetadata = &discord.InteractionMetadata{ID: discord.Snowflake(id)}
	}
}

func withAttachment(url string) msgOpt {
	return func(m *discord.Message) {
		m.Attachments = append(m.Attachments, discord.Attachment{URL: url, Filename: "img.png"})
	}
}

func withEmbed(e discord.Embed) msgOpt {
	return func(m *discord.Message) { m.Embeds = append(m.Embeds, e) }
}

func withButtons(customIDs ...string) msgOpt {
	return func(m *discord.Message) {
		row := discord.Component{Type: 1}
		for _, id := range customIDs {
			row.Components = append(row.Components, discord.Component{Type: 2, CustomID: id, Label: id})
		}
		m.Components = append(m.Components, row)
	}
}

func event(class discord.MessageClass, id, content string, opts ...msgOpt) *discord.MessageEvent {
	m := discord.Message{
		ID:        discord.Snowflake(id),
		ChannelID: "chan-1",
		Content:   content,
		Author:    &discord.User{ID: discord.Snowflake(discord.MidjourneyBotID), Bot: true},
	}
	for _, opt := range opts {
		opt(&m)
	}
	return &discord.MessageEvent{Class: class, Message: m}
}

func TestPlaceholderMatchesByNonce(t *testing.T) {
	tk := task.New(task.ActionImagine, "a red apple")
	tk.Submitted()
	p, _ := newTestPipeline(t, tk)

	p.OnMessage(event(discord.ClassCreate, "m1",
		"**a red apple** - <@111> (Waiting to start)",
		withNonce(tk.Nonce), withInteraction("im-1")))

	if tk.GetStatus() != task.StatusInProgress {
		t.Fatalf("status = %s", tk.GetStatus())
	}
	if !tk.HasMessageID("m1") {
		t.Fatalf("ack message id not recorded")
	}
	if tk.GetInteractionMetadataID() != "im-1" {
		t.Fatalf("interaction metadata id = %s", tk.GetInteractionMetadataID())
	}
}

func TestProgressUpdate(t *testing.T) {
	tk := task.New(task.ActionImagine, "a red apple")
	tk.Submitted()
	tk.PushMessageID("m1")
	p, _ := newTestPipeline(t, tk)

	p.OnMessage(event(discord.ClassUpdate, "m1",
		"**a red apple** - (31%) (fast)",
		withAttachment("https://cdn.example/preview.png")))

	if tk.GetStatus() != task.StatusInProgress {
		t.Fatalf("status = %s", tk.GetStatus())
	}
	snap := tk.Snapshot()
	if snap.Progress != "31%" {
		t.Fatalf("progress = %s", snap.Progress)
	}
	if snap.Properties[task.PropProgressImage] != "https://cdn.example/preview.png" {
		t.Fatalf("preview url not recorded")
	}
}

func TestSubmitToCompletionScenario(t *testing.T) {
	tk := task.New(task.ActionImagine, "a red apple")
	tk.Submitted()
	p, view := newTestPipeline(t, tk)

	p.OnMessage(event(discord.ClassCreate, "m1",
		"**a red apple** - <@111> (Waiting to start)",
		withNonce(tk.Nonce), withInteraction("im-1")))
	p.OnMessage(event(discord.ClassUpdate, "m1",
		"**a red apple** - (62%) (fast)",
		withAttachment("https://cdn.example/preview.png")))
	p.OnMessage(event(discord.ClassCreate, "m2",
		"**a red apple** - <@111> (fast)",
		withInteraction("im-1"),
		withAttachment("https://cdn.example/final_abcdef123456.png"),
		withButtons("MJ::JOB::upsample::1::abcdef123456", "MJ::JOB::reroll::0::abcdef123456")))

	if tk.GetStatus() != task.StatusSuccess {
		t.Fatalf("status = %s", tk.GetStatus())
	}
	if tk.GetImageURL() != "https://cdn.example/final_abcdef123456.png" {
		t.Fatalf("image url = %s", tk.GetImageURL())
	}
	snap := tk.Snapshot()
	if snap.Properties[task.PropMessageHash] != "abcdef123456" {
		t.Fatalf("message hash = %v", snap.Properties[task.PropMessageHash])
	}
	if len(snap.Buttons) != 2 || snap.Buttons[0].CustomID != "MJ::JOB::upsample::1::abcdef123456" {
		t.Fatalf("buttons = %v", snap.Buttons)
	}
	if len(view.finished) != 1 || view.finished[0] != tk {
		t.Fatalf("finish not reported exactly once: %d", len(view.finished))
	}
}

func TestDuplicateTerminalEventIsNoOp(t *testing.T) {
	tk := task.New(task.ActionImagine, "a red apple")
	tk.Submitted()
	p, view := newTestPipeline(t, tk)

	final := event(discord.ClassCreate, "m2",
		"**a red apple** - <@111> (fast)",
		withAttachment("https://cdn.example/final_hash1.png"))
	p.OnMessage(final)
	finish := tk.Snapshot().FinishTime
	p.OnMessage(final)

	if len(view.finished) != 1 {
		t.Fatalf("finish reported %d times", len(view.finished))
	}
	if !tk.Snapshot().FinishTime.Equal(finish) {
		t.Fatalf("finish time changed on redelivery")
	}
}

func TestProgressAfterTerminalIsNoOp(t *testing.T) {
	tk := task.New(task.ActionImagine, "a red apple")
	tk.Submitted()
	tk.PushMessageID("m1")
	p, _ := newTestPipeline(t, tk)

	p.OnMessage(event(discord.ClassCreate, "m2",
		"**a red apple** - <@111> (fast)",
		withAttachment("https://cdn.example/final_hash1.png")))
	p.OnMessage(event(discord.ClassUpdate, "m1",
		"**a red apple** - (90%) (fast)"))

	snap := tk.Snapshot()
	if snap.Status != task.StatusSuccess || snap.Progress != "100%" {
		t.Fatalf("terminal state disturbed: %s %s", snap.Status, snap.Progress)
	}
}

func TestErrorBannerFailsJob(t *testing.T) {
	tk := task.New(task.ActionImagine, "a red apple")
	tk.Submitted()
	p, view := newTestPipeline(t, tk)

	p.OnMessage(event(discord.ClassCreate, "m1", "",
		withNonce(tk.Nonce),
		withEmbed(discord.Embed{
			Title:       "Invalid parameter",
			Description: "Unrecognized argument --foo",
			Color:       16711680,
		})))

	if tk.GetStatus() != task.StatusFailure {
		t.Fatalf("status = %s", tk.GetStatus())
	}
	if tk.GetFailReason() != "Invalid parameter: Unrecognized argument --foo" {
		t.Fatalf("reason = %q", tk.GetFailReason())
	}
	if len(view.finished) != 1 {
		t.Fatalf("finish reported %d times", len(view.finished))
	}
}

func TestWarningBannerIsLoggedOnly(t *testing.T) {
	tk := task.New(task.ActionImagine, "a red apple")
	tk.Submitted()
	p, view := newTestPipeline(t, tk)

	p.OnMessage(event(discord.ClassCreate, "m1", "",
		withNonce(tk.Nonce),
		withEmbed(discord.Embed{Title: "Queue full soon", Color: 16776960})))

	if tk.IsTerminal() {
		t.Fatalf("warning must not fail the job")
	}
	if len(view.finished) != 0 {
		t.Fatalf("warning must not finish the job")
	}
}

func TestVerificationChallengeLocksAccount(t *testing.T) {
	tk := task.New(task.ActionImagine, "a red apple")
	tk.Submitted()
	p, view := newTestPipeline(t, tk)

	p.OnMessage(event(discord.ClassCreate, "m8", "",
		withEmbed(discord.Embed{
			Title:       "Action needed to continue",
			Description: "Please verify you're human: https://upstream.example/verify/abc",
		})))

	if view.challenge != "https://upstream.example/verify/abc" {
		t.Fatalf("challenge url = %q", view.challenge)
	}
	if tk.IsTerminal() || len(view.finished) != 0 {
		t.Fatalf("challenge must lock the account, not fail the job")
	}
}

func TestUpscaleCompletion(t *testing.T) {
	tk := task.New(task.ActionUpscale, "a red apple")
	tk.Submitted()
	p, _ := newTestPipeline(t, tk)

	p.OnMessage(event(discord.ClassCreate, "m5",
		"**a red apple** - Image #2 <@111> (fast)",
		withAttachment("https://cdn.example/upscale_hash2.png")))

	if tk.GetStatus() != task.StatusSuccess {
		t.Fatalf("status = %s", tk.GetStatus())
	}
}

func TestDescribeCompletion(t *testing.T) {
	tk := task.New(task.ActionDescribe, "")
	tk.Submitted()
	p, _ := newTestPipeline(t, tk)

	p.OnMessage(event(discord.ClassUpdate, "m7", "",
		withEmbed(discord.Embed{
			Description: "1. a red apple on a table --ar 1:1",
			Image:       &discord.EmbedImage{URL: "https://cdn.example/input.png"},
		})))

	if tk.GetStatus() != task.StatusSuccess {
		t.Fatalf("status = %s", tk.GetStatus())
	}
	if tk.StringProperty(task.PropDescription) == "" {
		t.Fatalf("description not captured")
	}
}

func TestBlendFallsBackToActionMatch(t *testing.T) {
	tk := task.New(task.ActionBlend, "")
	tk.Submitted()
	p, _ := newTestPipeline(t, tk)

	p.OnMessage(event(discord.ClassCreate, "m9",
		"**<https://s.mj.run/a> <https://s.mj.run/b>** - <@111> (fast)",
		withAttachment("https://cdn.example/blend_hash3.png")))

	if tk.GetStatus() != task.StatusSuccess {
		t.Fatalf("status = %s", tk.GetStatus())
	}
}

func TestForeignMessageIsDropped(t *testing.T) {
	tk := task.New(task.ActionImagine, "a red apple")
	tk.Submitted()
	p, view := newTestPipeline(t, tk)

	p.OnMessage(event(discord.ClassCreate, "m3",
		"**a blue house** - <@222> (fast)",
		withAttachment("https://cdn.example/other_hash9.png")))

	if tk.IsTerminal() || len(view.finished) != 0 {
		t.Fatalf("foreign completion matched our task")
	}
}

func TestPromptFallbackEarliestStartedWins(t *testing.T) {
	older := task.New(task.ActionImagine, "a red apple")
	older.Submitted()
	older.StartTime = time.Now().Add(-time.Minute)
	newer := task.New(task.ActionImagine, "a red apple")
	newer.Submitted()
	p, _ := newTestPipeline(t, newer, older)

	p.OnMessage(event(discord.ClassCreate, "m4",
		"**a red apple** - <@111> (fast)",
		withAttachment("https://cdn.example/final_hashx.png")))

	if older.GetStatus() != task.StatusSuccess {
		t.Fatalf("earliest-started task not chosen: %s", older.GetStatus())
	}
	if newer.IsTerminal() {
		t.Fatalf("newer task matched instead")
	}
}

package handler

import (
	"strings"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/discord"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/logger"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/task"
)

type bannerSeverity int

const (
	bannerNone bannerSeverity = iota
	bannerWarning
	bannerError
)

// severityForColor maps the embed accent color to a severity. Red banners
// fail the job; yellow ones are advisory and only logged.
func severityForColor(color int) bannerSeverity {
	switch color {
	case 16711680, 15548997: // red
		return bannerError
	case 16776960, 16705372: // yellow
		return bannerWarning
	}
	return bannerNone
}

// isChallenge spots the human-verification embed. It locks the whole
// account, not one job: every further command would hit the same wall.
func isChallenge(e discord.Embed) bool {
	text := strings.ToLower(e.Title + " " + e.Description)
	return strings.Contains(text, "verify you're human") ||
		strings.Contains(text, "verification required") ||
		strings.Contains(text, "action needed to continue")
}

// handleErrorBanner recognizes the platform's error/warning embeds. It runs
// first in the chain so a failure banner is never misread as a completion.
func handleErrorBanner(p *Pipeline, evt *discord.MessageEvent) bool {
	m := &evt.Message
	if len(m.Embeds) == 0 {
		return false
	}
	embed := m.Embeds[0]

	if isChallenge(embed) {
		p.view.MarkChallenge(linkPattern.FindString(embed.Description))
		return true
	}

	severity := severityForColor(embed.Color)
	if severity == bannerNone {
		return false
	}

	reason := embed.Title
	if embed.Description != "" {
		if reason != "" {
			reason += ": "
		}
		reason += embed.Description
	}

	if severity == bannerWarning {
		logger.WarnCF("handler", "platform warning", map[string]interface{}{
			"account": p.view.AccountID(),
			"reason":  reason,
		})
		return true
	}

	t := p.matchByIDs(evt)
	if t == nil && m.MessageReference != nil {
		refID := m.MessageReference.MessageID.String()
		t = p.view.FindRunning(func(t *task.Task) bool { return t.HasMessageID(refID) })
	}
	if t == nil && embed.Footer != nil {
		t = p.matchByPrompt(embed.Footer.Text)
	}
	if t == nil {
		logger.WarnCF("handler", "unmatched error banner", map[string]interface{}{
			"account": p.view.AccountID(),
			"reason":  reason,
		})
		return true
	}
	p.finalizeFailure(t, evt, reason)
	return true
}

// handleDescribe resolves image-to-text jobs: the result arrives as an embed
// whose description is the generated text.
func handleDescribe(p *Pipeline, evt *discord.MessageEvent) bool {
	m := &evt.Message
	if len(m.Embeds) == 0 || m.Embeds[0].Description == "" {
		return false
	}
	if !m.IsBotAuthor() || m.Content != "" {
		return false
	}

	t := p.matchByIDs(evt)
	if t == nil {
		t = p.matchByAction(task.ActionDescribe)
	}
	if t == nil || t.Action != task.ActionDescribe {
		return false
	}

	t.SetProperty(task.PropDescription, m.Embeds[0].Description)
	if len(m.Attachments) == 0 && m.Embeds[0].Image != nil {
		t.PushMessageID(m.ID.String())
		t.SetInteractionMetadataID(m.InteractionMetadataID())
	}
	p.finalizeSuccess(t, evt)
	return true
}

// handleStartAndProgress covers the non-terminal part of a job's visible
// life: the "Waiting to start" stub, percentage edits, and the stopped edit.
func handleStartAndProgress(p *Pipeline, evt *discord.MessageEvent) bool {
	m := &evt.Message
	pc, ok := parseContent(m.Content)
	if !ok {
		return false
	}

	if isPlaceholder(m.Content) {
		t := p.matchByIDs(evt)
		if t == nil {
			t = p.matchByPrompt(pc.Prompt)
		}
		if t == nil {
			return false
		}
		t.PushMessageID(m.ID.String())
		t.SetInteractionMetadataID(m.InteractionMetadataID())
		t.InProgress("0%", "")
		return true
	}

	if evt.Class == discord.ClassUpdate {
		if percent := progressPercent(m.Content); percent != "" {
			t := p.matchByIDs(evt)
			if t == nil {
				t = p.matchByPrompt(pc.Prompt)
			}
			if t == nil {
				return false
			}
			p.progress(t, evt, percent)
			return true
		}
		if isStopped(m.Content) {
			t := p.matchByIDs(evt)
			if t == nil {
				t = p.matchByPrompt(pc.Prompt)
			}
			if t == nil {
				return false
			}
			p.finalizeFailure(t, evt, "job stopped")
			return true
		}
	}

	return false
}

// handleUpscale resolves single-image upscales, which the bot labels with
// "Image #N" or an "Upscaled" marker.
func handleUpscale(p *Pipeline, evt *discord.MessageEvent) bool {
	if evt.Class != discord.ClassCreate {
		return false
	}
	m := &evt.Message
	pc, ok := parseContent(m.Content)
	if !ok || len(m.Attachments) == 0 {
		return false
	}
	isUpscale := strings.Contains(pc.Suffix, "Upscaled") ||
		(upscalePattern.MatchString(pc.Suffix) && completionSuffix(pc.Suffix))
	if !isUpscale {
		return false
	}

	t := p.matchByIDs(evt)
	if t == nil {
		t = p.matchByPrompt(pc.Prompt, task.ActionUpscale)
	}
	if t == nil {
		t = p.matchByAction(task.ActionUpscale)
	}
	if t == nil {
		return false
	}
	p.finalizeSuccess(t, evt)
	return true
}

// handleShow resolves lookup jobs: the bot reposts an already-finished
// render, so correlation leans on ids and the action fallback.
func handleShow(p *Pipeline, evt *discord.MessageEvent) bool {
	if evt.Class != discord.ClassCreate {
		return false
	}
	m := &evt.Message
	pc, ok := parseContent(m.Content)
	if !ok || len(m.Attachments) == 0 {
		return false
	}
	if !completionSuffix(pc.Suffix) && !strings.Contains(pc.Suffix, "Image #") {
		return false
	}

	t := p.matchByIDs(evt)
	if t == nil {
		t = p.matchByAction(task.ActionShow)
	}
	if t == nil || t.Action != task.ActionShow {
		return false
	}
	p.finalizeSuccess(t, evt)
	return true
}

// handleImagine resolves freshly generated grids for imagine jobs.
func handleImagine(p *Pipeline, evt *discord.MessageEvent) bool {
	if evt.Class != discord.ClassCreate {
		return false
	}
	m := &evt.Message
	pc, ok := parseContent(m.Content)
	if !ok || len(m.Attachments) == 0 || !completionSuffix(pc.Suffix) {
		return false
	}

	t := p.matchByIDs(evt)
	if t == nil {
		t = p.matchByPrompt(pc.Prompt, task.ActionImagine)
	}
	if t == nil || t.Action != task.ActionImagine {
		return false
	}
	t.SetProperty(task.PropRawContent, m.Content)
	p.finalizeSuccess(t, evt)
	return true
}

var followUpActions = []task.Action{
	task.ActionVariation,
	task.ActionReroll,
	task.ActionPan,
	task.ActionZoom,
	task.ActionCustomZoom,
	task.ActionInpaint,
	task.ActionBlend,
	task.ActionSwapFace,
	task.ActionModal,
}

// handleActionCompleted is the generic completion handler for every
// follow-up action that produces a new grid or image. Blend and re-roll
// acknowledgments carry no usable prompt text, hence the action fallback.
func handleActionCompleted(p *Pipeline, evt *discord.MessageEvent) bool {
	if evt.Class != discord.ClassCreate {
		return false
	}
	m := &evt.Message
	pc, ok := parseContent(m.Content)
	if !ok || len(m.Attachments) == 0 || !completionSuffix(pc.Suffix) {
		return false
	}

	t := p.matchByIDs(evt)
	if t == nil {
		t = p.matchByPrompt(pc.Prompt, followUpActions...)
	}
	if t == nil {
		t = p.matchByAction(task.ActionBlend, task.ActionReroll)
	}
	if t == nil {
		return false
	}
	t.SetProperty(task.PropRawContent, m.Content)
	p.finalizeSuccess(t, evt)
	return true
}

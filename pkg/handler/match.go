package handler

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/discord"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/task"
)

var linkPattern = regexp.MustCompile(`https?://\S+`)

// NormalizePrompt reduces a prompt to its comparable core: parameter suffixes
// ("--ar 16:9") stripped, embedded links collapsed to a placeholder,
// whitespace removed, case folded. "a cute cat --ar 16:9" and "A Cute Cat"
// normalize to the same string.
func NormalizePrompt(s string) string {
	if idx := strings.Index(s, " --"); idx >= 0 {
		s = s[:idx]
	}
	s = linkPattern.ReplaceAllString(s, "<link>")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// promptsMatch compares two normalized prompts by equality or prefix/suffix
// containment. Containment covers the upstream habit of echoing a truncated
// or decorated variant of the submitted prompt.
func promptsMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b) || strings.HasSuffix(a, b) ||
		strings.HasPrefix(b, a) || strings.HasSuffix(b, a)
}

// matchByIDs runs the exact correlation steps: message id, then
// interaction-metadata id, then nonce.
func (p *Pipeline) matchByIDs(evt *discord.MessageEvent) *task.Task {
	msgID := evt.Message.ID.String()
	if t := p.view.FindRunning(func(t *task.Task) bool { return t.HasMessageID(msgID) }); t != nil {
		return t
	}
	if imID := evt.Message.InteractionMetadataID(); imID != "" {
		if t := p.view.FindRunning(func(t *task.Task) bool { return t.GetInteractionMetadataID() == imID }); t != nil {
			return t
		}
	}
	if nonce := evt.Message.Nonce.String(); nonce != "" {
		if t := p.view.FindRunning(func(t *task.Task) bool { return t.Nonce == nonce }); t != nil {
			return t
		}
	}
	return nil
}

// matchByPrompt is the fuzzy fallback: normalized prompt comparison across
// the non-terminal tasks of the given actions, earliest-started wins ties.
// False positives are possible when two running prompts share a long prefix;
// the earliest-started tie-break is the only disambiguation applied.
func (p *Pipeline) matchByPrompt(prompt string, actions ...task.Action) *task.Task {
	normalized := NormalizePrompt(prompt)
	if normalized == "" {
		return nil
	}
	return p.earliest(func(t *task.Task) bool {
		if !actionAllowed(t.Action, actions) {
			return false
		}
		return promptsMatch(normalized, NormalizePrompt(t.PromptEn)) ||
			promptsMatch(normalized, NormalizePrompt(t.Prompt))
	})
}

// matchByAction is the promptless fallback for acknowledgments that carry no
// echoed prompt text (re-roll, blend, plain variations).
func (p *Pipeline) matchByAction(actions ...task.Action) *task.Task {
	return p.earliest(func(t *task.Task) bool {
		return actionAllowed(t.Action, actions)
	})
}

func (p *Pipeline) earliest(match func(*task.Task) bool) *task.Task {
	var best *task.Task
	for _, t := range p.view.RunningTasks() {
		if t.IsTerminal() || !match(t) {
			continue
		}
		if best == nil || t.GetStartTime().Before(best.GetStartTime()) {
			best = t
		}
	}
	return best
}

func actionAllowed(a task.Action, allowed []task.Action) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if a == candidate {
			return true
		}
	}
	return false
}

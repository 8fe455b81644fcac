package task

import (
	"encoding/binary"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusSubmitted  Status = "SUBMITTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusFailure    Status = "FAILURE"
)

type Action string

const (
	ActionImagine    Action = "IMAGINE"
	ActionUpscale    Action = "UPSCALE"
	ActionVariation  Action = "VARIATION"
	ActionReroll     Action = "REROLL"
	ActionPan        Action = "PAN"
	ActionZoom       Action = "ZOOM"
	ActionCustomZoom Action = "CUSTOM_ZOOM"
	ActionInpaint    Action = "INPAINT"
	ActionBlend      Action = "BLEND"
	ActionDescribe   Action = "DESCRIBE"
	ActionShow       Action = "SHOW"
	ActionAccount    Action = "ACCOUNT"
	ActionModal      Action = "MODAL"
	ActionSwapFace   Action = "SWAP_FACE"
)

// Well-known property bag keys.
const (
	PropHookURL          = "hookUrl"
	PropMessageHash      = "messageHash"
	PropCustomID         = "customId"
	PropRawContent       = "rawContent"
	PropParentTaskID     = "parentTaskId"
	PropRefMessageID     = "refMessageId"
	PropRemix            = "remix"
	PropProgressImage    = "progressImageUrl"
	PropModalID          = "modalId"
	PropModalComponentID = "modalComponentId"
	PropImages           = "imageBase64Array"
	PropBlendDimensions  = "blendDimensions"
	PropDescription      = "description"
)

// Button is an actionable component discovered on the final message, handed
// back to the submitter so follow-up actions (upscale, variation, pan) can be
// issued against it.
type Button struct {
	CustomID string `json:"customId"`
	Emoji    string `json:"emoji"`
	Label    string `json:"label"`
	Style    int    `json:"style"`
	Type     int    `json:"type"`
}

// Task is the unit of work. All mutation goes through methods; once the task
// is terminal every further mutation is a silent no-op, which makes duplicate
// terminal events from the upstream stream harmless.
type Task struct {
	mu    sync.Mutex
	awake chan struct{}

	ID                    string         `json:"id"`
	Nonce                 string         `json:"nonce"`
	Action                Action         `json:"action"`
	Status                Status         `json:"status"`
	Prompt                string         `json:"prompt"`
	PromptEn              string         `json:"promptEn"`
	InstanceID            string         `json:"instanceId"`
	MessageIDs            []string       `json:"messageIds"`
	InteractionMetadataID string         `json:"interactionMetadataId"`
	ImageURL              string         `json:"imageUrl"`
	Progress              string         `json:"progress"`
	FailReason            string         `json:"failReason"`
	Buttons               []Button       `json:"buttons"`
	Properties            map[string]any `json:"properties"`
	SubmitTime            time.Time      `json:"submitTime"`
	StartTime             time.Time      `json:"startTime"`
	FinishTime            time.Time      `json:"finishTime"`
}

func New(action Action, prompt string) *Task {
	return &Task{
		ID:         uuid.NewString(),
		Nonce:      newNonce(),
		Action:     action,
		Status:     StatusNotStarted,
		Prompt:     prompt,
		PromptEn:   prompt,
		Properties: make(map[string]any),
		awake:      make(chan struct{}, 1),
		SubmitTime: time.Now(),
	}
}

// newNonce produces a numeric correlation token; the upstream echoes it back
// verbatim on the first acknowledgment message. Kept in the signed 63-bit
// range because some clients parse nonces as int64.
func newNonce() string {
	id := uuid.New()
	n := binary.BigEndian.Uint64(id[:8]) >> 1
	return strconv.FormatUint(n, 10)
}

// IsTerminal reports whether the task reached SUCCESS or FAILURE.
func (t *Task) IsTerminal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminalLocked()
}

func (t *Task) terminalLocked() bool {
	return t.Status == StatusSuccess || t.Status == StatusFailure
}

func (t *Task) GetStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status
}

// Submitted marks the task as sent to the upstream and stamps StartTime.
func (t *Task) Submitted() {
	t.mu.Lock()
	if !t.terminalLocked() && t.Status == StatusNotStarted {
		t.Status = StatusSubmitted
		t.StartTime = time.Now()
	}
	t.mu.Unlock()
	t.Awake()
}

// InProgress records a progress update. No-op once terminal.
func (t *Task) InProgress(progress, previewURL string) {
	t.mu.Lock()
	if t.terminalLocked() {
		t.mu.Unlock()
		return
	}
	t.Status = StatusInProgress
	if progress != "" {
		t.Progress = progress
	}
	if previewURL != "" {
		t.Properties[PropProgressImage] = previewURL
	}
	t.mu.Unlock()
	t.Awake()
}

// Success finalizes the task. No-op once terminal.
func (t *Task) Success(imageURL string) {
	t.mu.Lock()
	if t.terminalLocked() {
		t.mu.Unlock()
		return
	}
	t.Status = StatusSuccess
	t.Progress = "100%"
	if imageURL != "" {
		t.ImageURL = imageURL
	}
	t.FinishTime = time.Now()
	t.mu.Unlock()
	t.Awake()
}

// Fail forces FAILURE. Reachable from any non-terminal state (cancel,
// timeout, platform error); no-op once terminal. Reports whether this call
// performed the transition, so a late watchdog losing the race to a real
// terminal event knows it changed nothing.
func (t *Task) Fail(reason string) bool {
	t.mu.Lock()
	if t.terminalLocked() {
		t.mu.Unlock()
		return false
	}
	t.Status = StatusFailure
	t.FailReason = reason
	t.FinishTime = time.Now()
	t.mu.Unlock()
	t.Awake()
	return true
}

// PushMessageID appends a message id. The list only ever grows.
func (t *Task) PushMessageID(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.MessageIDs {
		if existing == id {
			return
		}
	}
	t.MessageIDs = append(t.MessageIDs, id)
}

// HasMessageID reports whether the task has seen the given message id.
func (t *Task) HasMessageID(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.MessageIDs {
		if existing == id {
			return true
		}
	}
	return false
}

// LatestMessageID returns the most recently appended message id.
func (t *Task) LatestMessageID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.MessageIDs) == 0 {
		return ""
	}
	return t.MessageIDs[len(t.MessageIDs)-1]
}

func (t *Task) SetInteractionMetadataID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.InteractionMetadataID == "" && id != "" {
		t.InteractionMetadataID = id
	}
}

func (t *Task) GetInteractionMetadataID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.InteractionMetadataID
}

func (t *Task) SetButtons(buttons []Button) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status == StatusSuccess || len(t.Buttons) == 0 {
		t.Buttons = buttons
	}
}

func (t *Task) SetProperty(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Properties[key] = value
}

func (t *Task) Property(key string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.Properties[key]
	return v, ok
}

func (t *Task) StringProperty(key string) string {
	v, ok := t.Property(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// ImageProperties returns the data-URL images attached to the task (blend
// and describe submissions).
func (t *Task) ImageProperties() []string {
	v, ok := t.Property(PropImages)
	if !ok {
		return nil
	}
	switch imgs := v.(type) {
	case []string:
		return imgs
	case []any:
		out := make([]string, 0, len(imgs))
		for _, item := range imgs {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (t *Task) GetFailReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.FailReason
}

func (t *Task) GetImageURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ImageURL
}

func (t *Task) GetStartTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.StartTime
}

// Snapshot is a plain value copy of a task's state: no lock, no waiter, safe
// to marshal and to hand across goroutines.
type Snapshot struct {
	ID                    string         `json:"id"`
	Nonce                 string         `json:"nonce"`
	Action                Action         `json:"action"`
	Status                Status         `json:"status"`
	Prompt                string         `json:"prompt"`
	PromptEn              string         `json:"promptEn"`
	InstanceID            string         `json:"instanceId"`
	MessageIDs            []string       `json:"messageIds"`
	InteractionMetadataID string         `json:"interactionMetadataId"`
	ImageURL              string         `json:"imageUrl"`
	Progress              string         `json:"progress"`
	FailReason            string         `json:"failReason"`
	Buttons               []Button       `json:"buttons"`
	Properties            map[string]any `json:"properties"`
	SubmitTime            time.Time      `json:"submitTime"`
	StartTime             time.Time      `json:"startTime"`
	FinishTime            time.Time      `json:"finishTime"`
}

// Snapshot returns a detached copy of the task's current state.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	clone := Snapshot{
		ID:                    t.ID,
		Nonce:                 t.Nonce,
		Action:                t.Action,
		Status:                t.Status,
		Prompt:                t.Prompt,
		PromptEn:              t.PromptEn,
		InstanceID:            t.InstanceID,
		InteractionMetadataID: t.InteractionMetadataID,
		ImageURL:              t.ImageURL,
		Progress:              t.Progress,
		FailReason:            t.FailReason,
		SubmitTime:            t.SubmitTime,
		StartTime:             t.StartTime,
		FinishTime:            t.FinishTime,
	}
	clone.MessageIDs = append([]string(nil), t.MessageIDs...)
	clone.Buttons = append([]Button(nil), t.Buttons...)
	clone.Properties = make(map[string]any, len(t.Properties))
	for k, v := range t.Properties {
		clone.Properties[k] = v
	}
	return clone
}

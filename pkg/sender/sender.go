package sender

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/discord"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/logger"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/store"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/task"
)

// Request is one outbound command: which account issues it, under which
// gateway session, for which task.
type Request struct {
	Account   *store.Account
	SessionID string
	Task      *task.Task
}

// Sender issues the platform-native equivalent of a slash command, button
// click or modal submit. A rejection surfaces as an error and the dispatch
// loop fails the task immediately.
type Sender interface {
	Submit(ctx context.Context, req Request) error
}

// Interactions talks to the upstream REST interactions endpoint.
type Interactions struct {
	endpoints discord.Endpoints
	commands  map[string]discord.ApplicationCommand

	mu      sync.Mutex
	clients map[string]*resty.Client
}

func NewInteractions(endpoints discord.Endpoints) *Interactions {
	return &Interactions{
		endpoints: endpoints,
		commands:  discord.KnownCommands(),
		clients:   make(map[string]*resty.Client),
	}
}

func (s *Interactions) client(account *store.Account) *resty.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[account.ID]; ok {
		return c
	}
	c := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("Authorization", account.UserToken).
		SetHeader("Content-Type", "application/json")
	if account.UserAgent != "" {
		c.SetHeader("User-Agent", account.UserAgent)
	}
	if account.Proxy != "" {
		c.SetProxy(account.Proxy)
	}
	s.clients[account.ID] = c
	return c
}

func (s *Interactions) Submit(ctx context.Context, req Request) error {
	t := req.Task
	var payload map[string]any
	var err error

	switch t.Action {
	case task.ActionImagine:
		payload, err = s.commandPayload(req, "imagine", []map[string]any{
			{"type": 3, "name": "prompt", "value": t.PromptEn},
		}, nil)
	case task.ActionShow:
		payload, err = s.commandPayload(req, "show", []map[string]any{
			{"type": 3, "name": "job_id", "value": t.StringProperty(task.PropCustomID)},
		}, nil)
	case task.ActionBlend:
		payload, err = s.blendPayload(ctx, req)
	case task.ActionDescribe:
		payload, err = s.describePayload(ctx, req)
	case task.ActionAccount:
		payload, err = s.commandPayload(req, t.StringProperty(task.PropCustomID), nil, nil)
	case task.ActionModal:
		payload, err = s.modalPayload(req)
	case task.ActionUpscale, task.ActionVariation, task.ActionReroll,
		task.ActionPan, task.ActionZoom, task.ActionCustomZoom,
		task.ActionInpaint, task.ActionSwapFace:
		payload, err = s.buttonPayload(req)
	default:
		return fmt.Errorf("action %s not submittable", t.Action)
	}
	if err != nil {
		return err
	}

	return s.post(ctx, req.Account, payload)
}

func (s *Interactions) post(ctx context.Context, account *store.Account, payload map[string]any) error {
	resp, err := s.client(account).R().
		SetContext(ctx).
		SetBody(payload).
		Post(s.endpoints.InteractionsURL())
	if err != nil {
		return fmt.Errorf("submit interaction: %w", err)
	}
	if resp.IsError() {
		logger.WarnCF("sender", "interaction rejected", map[string]interface{}{
			"account": account.ID,
			"status":  resp.StatusCode(),
			"body":    truncate(resp.String(), 200),
		})
		return fmt.Errorf("interaction rejected: status %d", resp.StatusCode())
	}
	return nil
}

// commandPayload builds a type-2 application command interaction.
func (s *Interactions) commandPayload(req Request, name string, options []map[string]any, attachments []map[string]any) (map[string]any, error) {
	cmd, ok := s.commands[name]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}
	if options == nil {
		options = []map[string]any{}
	}
	if attachments == nil {
		attachments = []map[string]any{}
	}
	data := map[string]any{
		"version": cmd.Version,
		"id":      cmd.ID,
		"name":    cmd.Name,
		"type":    cmd.Type,
		"options": options,
		"application_command": map[string]any{
			"id":      cmd.ID,
			"version": cmd.Version,
			"name":    cmd.Name,
			"type":    cmd.Type,
		},
		"attachments": attachments,
	}
	return map[string]any{
		"type":           2,
		"application_id": discord.MidjourneyAppID,
		"guild_id":       req.Account.GuildID,
		"channel_id":     req.Account.ChannelID,
		"session_id":     req.SessionID,
		"nonce":          req.Task.Nonce,
		"data":           data,
	}, nil
}

// buttonPayload builds a type-3 component interaction against the parent
// message the button was discovered on.
func (s *Interactions) buttonPayload(req Request) (map[string]any, error) {
	customID := req.Task.StringProperty(task.PropCustomID)
	messageID := req.Task.StringProperty(task.PropRefMessageID)
	if customID == "" || messageID == "" {
		return nil, fmt.Errorf("action %s requires customId and message id", req.Task.Action)
	}
	return map[string]any{
		"type":           3,
		"application_id": discord.MidjourneyAppID,
		"guild_id":       req.Account.GuildID,
		"channel_id":     req.Account.ChannelID,
		"session_id":     req.SessionID,
		"message_flags":  0,
		"message_id":     messageID,
		"nonce":          req.Task.Nonce,
		"data": map[string]any{
			"component_type": 2,
			"custom_id":      customID,
		},
	}, nil
}

// modalPayload answers a modal the upstream opened (remix, custom zoom,
// inpaint prompt).
func (s *Interactions) modalPayload(req Request) (map[string]any, error) {
	customID := req.Task.StringProperty(task.PropCustomID)
	modalID := req.Task.StringProperty(task.PropModalID)
	componentID := req.Task.StringProperty(task.PropModalComponentID)
	if customID == "" || modalID == "" {
		return nil, fmt.Errorf("modal submit requires customId and modal id")
	}
	return map[string]any{
		"type":           5,
		"application_id": discord.MidjourneyAppID,
		"guild_id":       req.Account.GuildID,
		"channel_id":     req.Account.ChannelID,
		"session_id":     req.SessionID,
		"nonce":          req.Task.Nonce,
		"data": map[string]any{
			"id":        modalID,
			"custom_id": customID,
			"components": []map[string]any{
				{
					"type": 1,
					"components": []map[string]any{
						{
							"type":      4,
							"custom_id": componentID,
							"value":     req.Task.PromptEn,
						},
					},
				},
			},
		},
	}, nil
}

func (s *Interactions) blendPayload(ctx context.Context, req Request) (map[string]any, error) {
	images := req.Task.ImageProperties()
	if len(images) < 2 {
		return nil, fmt.Errorf("blend requires at least two images")
	}
	options := make([]map[string]any, 0, len(images))
	attachments := make([]map[string]any, 0, len(images))
	for i, img := range images {
		uploaded, err := s.upload(ctx, req.Account, fmt.Sprintf("image%d.png", i+1), img)
		if err != nil {
			return nil, err
		}
		options = append(options, map[string]any{
			"type":  11,
			"name":  fmt.Sprintf("image%d", i+1),
			"value": i,
		})
		attachments = append(attachments, map[string]any{
			"id":                fmt.Sprintf("%d", i),
			"filename":          uploaded.Filename,
			"uploaded_filename": uploaded.UploadedFilename,
		})
	}
	if dims := req.Task.StringProperty(task.PropBlendDimensions); dims != "" {
		options = append(options, map[string]any{
			"type": 3, "name": "dimensions", "value": dims,
		})
	}
	return s.commandPayload(req, "blend", options, attachments)
}

func (s *Interactions) describePayload(ctx context.Context, req Request) (map[string]any, error) {
	images := req.Task.ImageProperties()
	if len(images) == 0 {
		return nil, fmt.Errorf("describe requires an image")
	}
	uploaded, err := s.upload(ctx, req.Account, "describe.png", images[0])
	if err != nil {
		return nil, err
	}
	options := []map[string]any{
		{"type": 11, "name": "image", "value": 0},
	}
	attachments := []map[string]any{
		{
			"id":                "0",
			"filename":          uploaded.Filename,
			"uploaded_filename": uploaded.UploadedFilename,
		},
	}
	return s.commandPayload(req, "describe", options, attachments)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

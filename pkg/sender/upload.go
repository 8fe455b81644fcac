package sender

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/store"
)

// Uploaded identifies a file placed on the upstream CDN staging area so a
// follow-up command can reference it.
type Uploaded struct {
	Filename         string
	UploadedFilename string
}

type attachmentSlot struct {
	ID             int64  `json:"id"`
	UploadURL      string `json:"upload_url"`
	UploadFilename string `json:"upload_filename"`
}

type attachmentsResponse struct {
	Attachments []attachmentSlot `json:"attachments"`
}

// upload pushes one data-URL image through the two-step attachment flow:
// reserve a slot, then PUT the raw bytes to the returned upload URL.
func (s *Interactions) upload(ctx context.Context, account *store.Account, fallbackName, dataURL string) (*Uploaded, error) {
	mime, data, err := decodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	filename := fallbackName
	if ext := extensionForMime(mime); ext != "" {
		filename = strings.TrimSuffix(fallbackName, ".png") + ext
	}

	reserveBody := map[string]any{
		"files": []map[string]any{
			{"filename": filename, "file_size": len(data), "id": "0"},
		},
	}
	resp, err := s.client(account).R().
		SetContext(ctx).
		SetBody(reserveBody).
		Post(s.endpoints.AttachmentsURL(account.ChannelID))
	if err != nil {
		return nil, fmt.Errorf("reserve attachment: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("reserve attachment: status %d", resp.StatusCode())
	}
	var reserved attachmentsResponse
	if err := json.Unmarshal(resp.Body(), &reserved); err != nil {
		return nil, fmt.Errorf("decode attachment slot: %w", err)
	}
	if len(reserved.Attachments) == 0 {
		return nil, fmt.Errorf("no attachment slot returned")
	}
	slot := reserved.Attachments[0]

	put, err := s.client(account).R().
		SetContext(ctx).
		SetHeader("Content-Type", mime).
		SetBody(data).
		Put(slot.UploadURL)
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	if put.IsError() {
		return nil, fmt.Errorf("upload attachment: status %d", put.StatusCode())
	}

	return &Uploaded{Filename: filename, UploadedFilename: slot.UploadFilename}, nil
}

// decodeDataURL splits "data:image/png;base64,...." into MIME type and bytes.
// Bare base64 is accepted and assumed to be PNG.
func decodeDataURL(dataURL string) (mime string, data []byte, err error) {
	mime = "image/png"
	payload := dataURL
	if strings.HasPrefix(dataURL, "data:") {
		comma := strings.IndexByte(dataURL, ',')
		if comma < 0 {
			return "", nil, fmt.Errorf("malformed data url")
		}
		header := dataURL[len("data:"):comma]
		payload = dataURL[comma+1:]
		if semi := strings.IndexByte(header, ';'); semi >= 0 {
			header = header[:semi]
		}
		if header != "" {
			mime = header
		}
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode image: %w", err)
	}
	return mime, data, nil
}

func extensionForMime(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ""
}

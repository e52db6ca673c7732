package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// ListConversations fetches all conversation summaries.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	if err := c.getJSON(ctx, "/conversations", &convs); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// GetMessages fetches the ordered message history for a conversation.
func (c *Client) GetMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	path := fmt.Sprintf("/conversations/%s/messages?limit=%d", url.PathEscape(conversationID), limit)
	var msgs []Message
	if err := c.getJSON(ctx, path, &msgs); err != nil {
		return nil, fmt.Errorf("get messages for %s: %w", conversationID, err)
	}
	return msgs, nil
}

// SendMessage sends a text message to a conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendRequest) (*SendResult, error) {
	path := fmt.Sprintf("/conversations/%s/send", url.PathEscape(conversationID))
	var res SendResult
	if err := c.postJSON(ctx, path, req, &res); err != nil {
		return nil, fmt.Errorf("send to %s: %w", conversationID, err)
	}
	return &res, nil
}

// SendMedia uploads a media file to a conversation as multipart form data.
func (c *Client) SendMedia(ctx context.Context, conversationID, filename string, media io.Reader, caption string) (*SendResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("media", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, media); err != nil {
		return nil, fmt.Errorf("copy media: %w", err)
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return nil, fmt.Errorf("write caption: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	path := fmt.Sprintf("/conversations/%s/send-media", url.PathEscape(conversationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res SendResult
	if err := c.do(req, &res); err != nil {
		return nil, fmt.Errorf("send media to %s: %w", conversationID, err)
	}
	return &res, nil
}

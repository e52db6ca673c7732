package backend

import (
	"context"
	"fmt"
	"net/url"
)

// ListLabels fetches all labels.
func (c *Client) ListLabels(ctx context.Context) ([]Label, error) {
	var labels []Label
	if err := c.getJSON(ctx, "/labels", &labels); err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	return labels, nil
}

// CreateLabel creates a label and returns it with its assigned id.
func (c *Client) CreateLabel(ctx context.Context, name, color string) (*Label, error) {
	var label Label
	if err := c.postJSON(ctx, "/labels", Label{Name: name, Color: color}, &label); err != nil {
		return nil, fmt.Errorf("create label: %w", err)
	}
	return &label, nil
}

// UpdateLabel updates a label's name and color.
func (c *Client) UpdateLabel(ctx context.Context, label Label) error {
	path := "/labels/" + url.PathEscape(label.ID)
	if err := c.putJSON(ctx, path, label, nil); err != nil {
		return fmt.Errorf("update label %s: %w", label.ID, err)
	}
	return nil
}

// DeleteLabel removes a label entirely.
func (c *Client) DeleteLabel(ctx context.Context, labelID string) error {
	if err := c.delete(ctx, "/labels/"+url.PathEscape(labelID)); err != nil {
		return fmt.Errorf("delete label %s: %w", labelID, err)
	}
	return nil
}

// AttachLabel attaches a label to a customer.
func (c *Client) AttachLabel(ctx context.Context, customerID, labelID string) error {
	path := fmt.Sprintf("/customers/%s/labels", url.PathEscape(customerID))
	body := map[string]string{"labelId": labelID}
	if err := c.postJSON(ctx, path, body, nil); err != nil {
		return fmt.Errorf("attach label %s to %s: %w", labelID, customerID, err)
	}
	return nil
}

// DetachLabel removes a label from a customer.
func (c *Client) DetachLabel(ctx context.Context, customerID, labelID string) error {
	path := fmt.Sprintf("/customers/%s/labels/%s", url.PathEscape(customerID), url.PathEscape(labelID))
	if err := c.delete(ctx, path); err != nil {
		return fmt.Errorf("detach label %s from %s: %w", labelID, customerID, err)
	}
	return nil
}

// ListQuickReplies fetches the canned reply list.
func (c *Client) ListQuickReplies(ctx context.Context) ([]QuickReply, error) {
	var replies []QuickReply
	if err := c.getJSON(ctx, "/quickreplies", &replies); err != nil {
		return nil, fmt.Errorf("list quick replies: %w", err)
	}
	return replies, nil
}

// Translate translates text into the target language.
func (c *Client) Translate(ctx context.Context, text, to string) (string, error) {
	body := map[string]string{"text": text, "to": to}
	var res struct {
		Text string `json:"text"`
	}
	if err := c.postJSON(ctx, "/translate", body, &res); err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	return res.Text, nil
}

// SubscribePush registers a push endpoint for this device.
func (c *Client) SubscribePush(ctx context.Context, sub PushSubscription) error {
	body := map[string]any{"subscription": sub, "device": c.device}
	if err := c.postJSON(ctx, "/push/subscribe", body, nil); err != nil {
		return fmt.Errorf("subscribe push: %w", err)
	}
	return nil
}

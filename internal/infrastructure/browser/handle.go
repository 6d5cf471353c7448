package browser

import (
	"context"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"marketbot/internal/errs"
	"marketbot/internal/ports"
)

type handle struct {
	session *session
	id      cdp.NodeID
	locator ports.Locator
}

func (h *handle) ids() []cdp.NodeID {
	return []cdp.NodeID{h.id}
}

// IsVisible reports whether the node has a rendered, non-empty box.
func (h *handle) IsVisible(ctx context.Context) (bool, error) {
	visible := false
	err := h.session.run(ctx, "box model "+h.locator.String(), chromedp.ActionFunc(func(ctx context.Context) error {
		box, err := dom.GetBoxModel().WithNodeID(h.id).Do(ctx)
		if err != nil {
			// Detached or display:none nodes have no box model.
			return nil
		}
		visible = box != nil && box.Width > 0 && box.Height > 0
		return nil
	}))
	if err != nil {
		return false, err
	}
	return visible, nil
}

func (h *handle) IsInteractable(ctx context.Context) (bool, error) {
	visible, err := h.IsVisible(ctx)
	if err != nil || !visible {
		return false, err
	}

	attrs, err := h.attributes(ctx)
	if err != nil {
		return false, err
	}
	if _, disabled := attrs["disabled"]; disabled {
		return false, nil
	}
	if strings.EqualFold(attrs["aria-disabled"], "true") {
		return false, nil
	}
	return true, nil
}

func (h *handle) Click(ctx context.Context) error {
	return h.session.run(ctx, "click "+h.locator.String(), chromedp.Click(h.ids(), chromedp.ByNodeID))
}

// TypeText replaces the control's value with text.
func (h *handle) TypeText(ctx context.Context, text string) error {
	return h.session.run(ctx, "type "+h.locator.String(),
		chromedp.SetValue(h.ids(), "", chromedp.ByNodeID),
		chromedp.SendKeys(h.ids(), text, chromedp.ByNodeID),
	)
}

func (h *handle) ReadText(ctx context.Context) (string, error) {
	var text string
	if err := h.session.run(ctx, "read text "+h.locator.String(), chromedp.Text(h.ids(), &text, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (h *handle) Attribute(ctx context.Context, name string) (string, bool, error) {
	attrs, err := h.attributes(ctx)
	if err != nil {
		return "", false, err
	}
	value, ok := attrs[name]
	return value, ok, nil
}

func (h *handle) attributes(ctx context.Context) (map[string]string, error) {
	var flat []string
	err := h.session.run(ctx, "attributes "+h.locator.String(), chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		flat, err = dom.GetAttributes(h.id).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, errs.Wrap(err, "read attributes")
	}
	return pairAttributes(flat), nil
}

// pairAttributes turns CDP's flat [name, value, name, value...] list into a map.
func pairAttributes(flat []string) map[string]string {
	out := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out[flat[i]] = flat[i+1]
	}
	return out
}

package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"marketbot/internal/ports"
)

// translateLocator maps a locator onto a chromedp query. id and name become
// attribute selectors so they can match several nodes like the other kinds.
func translateLocator(locator ports.Locator) (string, chromedp.QueryOption, error) {
	value := strings.TrimSpace(locator.Value)
	if value == "" {
		return "", nil, fmt.Errorf("locator %s has no value", locator)
	}

	switch locator.Kind {
	case ports.ByID:
		return fmt.Sprintf(`[id=%s]`, cssString(value)), chromedp.ByQueryAll, nil
	case ports.ByName:
		return fmt.Sprintf(`[name=%s]`, cssString(value)), chromedp.ByQueryAll, nil
	case ports.ByCSS:
		return value, chromedp.ByQueryAll, nil
	case ports.ByXPath:
		return value, chromedp.BySearch, nil
	case ports.ByText:
		return fmt.Sprintf(`//*[contains(normalize-space(.), %s) and not(*[contains(normalize-space(.), %s)])]`,
			xpathString(value), xpathString(value)), chromedp.BySearch, nil
	default:
		return "", nil, fmt.Errorf("unsupported locator kind %q", locator.Kind)
	}
}

func cssString(value string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value) + `"`
}

// xpathString quotes value for XPath 1.0, which has no escape sequences.
func xpathString(value string) string {
	if !strings.Contains(value, `'`) {
		return `'` + value + `'`
	}
	if !strings.Contains(value, `"`) {
		return `"` + value + `"`
	}

	parts := strings.Split(value, `'`)
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, `'`+part+`'`)
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

package ports

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseLocator(t *testing.T) {
	testCases := []struct {
		raw  string
		want Locator
	}{
		{raw: "id:email", want: Locator{Kind: ByID, Value: "email"}},
		{raw: "NAME:pass", want: Locator{Kind: ByName, Value: "pass"}},
		{raw: "xpath://span[contains(text(), 'Edit')]", want: Locator{Kind: ByXPath, Value: "//span[contains(text(), 'Edit')]"}},
		{raw: "//button[@name='login']", want: Locator{Kind: ByXPath, Value: "//button[@name='login']"}},
		{raw: "text:Save", want: Locator{Kind: ByText, Value: "Save"}},
		{raw: "input[type='password']", want: Locator{Kind: ByCSS, Value: "input[type='password']"}},
		{raw: "a[href*='/me/']", want: Locator{Kind: ByCSS, Value: "a[href*='/me/']"}},
	}

	for _, testCase := range testCases {
		got, err := ParseLocator(testCase.raw)
		if err != nil {
			t.Fatalf("ParseLocator(%q) error = %v", testCase.raw, err)
		}
		if got != testCase.want {
			t.Fatalf("ParseLocator(%q) = %+v, want %+v", testCase.raw, got, testCase.want)
		}
	}

	if _, err := ParseLocator(" "); err == nil {
		t.Fatalf("ParseLocator(empty) expected error")
	}
	if _, err := ParseLocator("id:"); err == nil {
		t.Fatalf("ParseLocator(id:) expected error")
	}
}

func TestDriverFaultClassification(t *testing.T) {
	root := errors.New("websocket closed")
	err := fmt.Errorf("click save: %w", NewDriverFault("click", root))

	if !IsDriverFault(err) {
		t.Fatalf("IsDriverFault() = false, want true")
	}
	if !errors.Is(err, root) {
		t.Fatalf("driver fault should unwrap to root cause")
	}
	if IsDriverFault(ErrElementNotFound) {
		t.Fatalf("element not found must not be a driver fault")
	}
}

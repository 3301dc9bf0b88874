//go:build !windows

package sink

import "errors"

// NewLocator returns the platform window locator. The target
// application only runs on Windows; on other platforms sessions can
// only be driven with an injected Locator (tests do this).
func NewLocator() Locator {
	return unsupportedLocator{}
}

type unsupportedLocator struct{}

func (unsupportedLocator) Locate(string) (Window, error) {
	return nil, errors.New("target discovery requires windows")
}

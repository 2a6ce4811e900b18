//go:build !darwin

package paste

import (
	"github.com/micmonay/keybd_event"
)

// Outside macOS there is no accessibility gate for synthetic input.
type openAuthorizer struct{}

func NewAuthorizer() Authorizer { return openAuthorizer{} }

func (openAuthorizer) Trusted() bool { return true }
func (openAuthorizer) Request() bool { return true }

// The window manager hands focus back when our window hides.
type passiveFocus struct{}

func NewFocus() Focus { return passiveFocus{} }

func (passiveFocus) Remember()              {}
func (passiveFocus) Restore() (bool, error) { return false, nil }

func setPasteModifier(kb *keybd_event.KeyBonding) {
	kb.HasCTRL(true)
}

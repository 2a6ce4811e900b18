package paste

import (
	"sync"

	"github.com/micmonay/keybd_event"
)

// KeyboardKeystroker synthesizes the paste shortcut with keybd_event.
type KeyboardKeystroker struct {
	once sync.Once
	kb   keybd_event.KeyBonding
	err  error
}

// NewKeystroker returns a keystroker. The key bonding is created lazily; on
// Linux that takes a couple of seconds while uinput registers the device.
func NewKeystroker() *KeyboardKeystroker {
	return &KeyboardKeystroker{}
}

func (k *KeyboardKeystroker) PasteKeystroke() error {
	k.once.Do(func() {
		k.kb, k.err = keybd_event.NewKeyBonding()
	})
	if k.err != nil {
		return k.err
	}
	k.kb.Clear()
	k.kb.SetKeys(keybd_event.VK_V)
	setPasteModifier(&k.kb)
	return k.kb.Launching()
}

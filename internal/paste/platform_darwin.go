//go:build darwin

package paste

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework ApplicationServices
#include <ApplicationServices/ApplicationServices.h>

bool pm_is_process_trusted() {
    return AXIsProcessTrusted();
}

bool pm_request_accessibility_permission() {
    const void *keys[] = { kAXTrustedCheckOptionPrompt };
    const void *values[] = { kCFBooleanTrue };
    CFDictionaryRef options = CFDictionaryCreate(kCFAllocatorDefault,
        keys,
        values,
        1,
        &kCFTypeDictionaryKeyCallBacks,
        &kCFTypeDictionaryValueCallBacks);
    bool trusted = AXIsProcessTrustedWithOptions(options);
    CFRelease(options);
    return trusted;
}
*/
import "C"

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/micmonay/keybd_event"
	"github.com/progrium/darwinkit/macos/appkit"
)

type axAuthorizer struct{}

// NewAuthorizer checks the accessibility trust of this process.
func NewAuthorizer() Authorizer { return axAuthorizer{} }

func (axAuthorizer) Trusted() bool { return bool(C.pm_is_process_trusted()) }
func (axAuthorizer) Request() bool { return bool(C.pm_request_accessibility_permission()) }

type workspaceFocus struct {
	mu       sync.Mutex
	previous appkit.RunningApplication
	has      bool
}

// NewFocus tracks the frontmost NSRunningApplication.
func NewFocus() Focus { return &workspaceFocus{} }

func (f *workspaceFocus) Remember() {
	app := appkit.Workspace_SharedWorkspace().FrontmostApplication()
	self := appkit.RunningApplication_CurrentApplication()

	f.mu.Lock()
	defer f.mu.Unlock()
	// Our own window being in front leaves the previous target in place.
	if app.IsNil() || app.ProcessIdentifier() == self.ProcessIdentifier() {
		return
	}
	f.previous, f.has = app, true
	slog.Debug("remembered frontmost app", "name", app.LocalizedName(), "bundle", app.BundleIdentifier())
}

func (f *workspaceFocus) Restore() (bool, error) {
	f.mu.Lock()
	app, has := f.previous, f.has
	f.mu.Unlock()

	if !has {
		return false, nil
	}
	if !app.ActivateWithOptions(appkit.ApplicationActivateIgnoringOtherApps) {
		return false, errors.New("activate " + app.LocalizedName() + " failed")
	}
	return true, nil
}

func setPasteModifier(kb *keybd_event.KeyBonding) {
	kb.HasSuper(true) // Cmd+V
}

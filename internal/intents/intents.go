// Package intents forwards user call actions to the host calling subsystem.
// The handlers are opaque fire-and-forget closures supplied at wiring time;
// none of them return a value and a missing handler is never an error.
package intents

import (
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
	"go.uber.org/zap"
)

// Handlers holds the closures the host controller registers for call control.
// Any field may be left nil.
type Handlers struct {
	PlaceCall func(phoneNumber string)
	Answer    func()
	Reject    func()
	End       func()
	Mute      func(muted bool)
	Hold      func(held bool)
	SendDTMF  func(digits string)
}

// CallIntents is the nil-safe invocation surface over the registered
// handlers. All methods are safe on a nil receiver.
type CallIntents struct {
	h Handlers
}

// New creates a CallIntents surface over the given handlers.
func New(h Handlers) *CallIntents {
	return &CallIntents{h: h}
}

// Dial forwards the raw number string to the PlaceCall handler. No
// normalization happens here; the calling subsystem decides how to dial.
func (c *CallIntents) Dial(phoneNumber string) {
	if c == nil || c.h.PlaceCall == nil {
		logger.Log.Debug("Dial intent dropped: no PlaceCall handler registered",
			zap.String("phone_number", phoneNumber))
		return
	}
	c.h.PlaceCall(phoneNumber)
}

// Answer invokes the answer handler for the active call.
func (c *CallIntents) Answer() {
	if c == nil || c.h.Answer == nil {
		return
	}
	c.h.Answer()
}

// Reject invokes the reject handler for the ringing call.
func (c *CallIntents) Reject() {
	if c == nil || c.h.Reject == nil {
		return
	}
	c.h.Reject()
}

// End invokes the hang-up handler for the active call.
func (c *CallIntents) End() {
	if c == nil || c.h.End == nil {
		return
	}
	c.h.End()
}

// Mute forwards the mute toggle to the host.
func (c *CallIntents) Mute(muted bool) {
	if c == nil || c.h.Mute == nil {
		return
	}
	c.h.Mute(muted)
}

// Hold forwards the hold toggle to the host.
func (c *CallIntents) Hold(held bool) {
	if c == nil || c.h.Hold == nil {
		return
	}
	c.h.Hold(held)
}

// SendDTMF forwards in-call dialpad digits to the host.
func (c *CallIntents) SendDTMF(digits string) {
	if c == nil || c.h.SendDTMF == nil {
		return
	}
	c.h.SendDTMF(digits)
}

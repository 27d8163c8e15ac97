package intents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
	"go.uber.org/zap/zaptest"
)

func setupLogger(t *testing.T) {
	originalLogger := logger.Log
	logger.Log = zaptest.NewLogger(t)
	t.Cleanup(func() { logger.Log = originalLogger })
}

func TestCallIntents_DialForwardsRawNumber(t *testing.T) {
	setupLogger(t)

	var dialed string
	c := New(Handlers{
		PlaceCall: func(phoneNumber string) { dialed = phoneNumber },
	})

	c.Dial("+1 (202) 555-1234")

	// The raw string goes through untouched
	assert.Equal(t, "+1 (202) 555-1234", dialed)
}

func TestCallIntents_AllHandlersInvoked(t *testing.T) {
	setupLogger(t)

	var (
		answered, rejected, ended bool
		muted, held               bool
		digits                    string
	)
	c := New(Handlers{
		Answer:   func() { answered = true },
		Reject:   func() { rejected = true },
		End:      func() { ended = true },
		Mute:     func(m bool) { muted = m },
		Hold:     func(h bool) { held = h },
		SendDTMF: func(d string) { digits = d },
	})

	c.Answer()
	c.Reject()
	c.End()
	c.Mute(true)
	c.Hold(true)
	c.SendDTMF("#42")

	assert.True(t, answered)
	assert.True(t, rejected)
	assert.True(t, ended)
	assert.True(t, muted)
	assert.True(t, held)
	assert.Equal(t, "#42", digits)
}

func TestCallIntents_MissingHandlersAreNoOps(t *testing.T) {
	setupLogger(t)

	c := New(Handlers{})

	assert.NotPanics(t, func() {
		c.Dial("2025551234")
		c.Answer()
		c.Reject()
		c.End()
		c.Mute(false)
		c.Hold(false)
		c.SendDTMF("1")
	})
}

func TestCallIntents_NilReceiverIsSafe(t *testing.T) {
	setupLogger(t)

	var c *CallIntents

	assert.NotPanics(t, func() {
		c.Dial("2025551234")
		c.Answer()
		c.Reject()
		c.End()
		c.Mute(true)
		c.Hold(true)
		c.SendDTMF("9")
	})
}

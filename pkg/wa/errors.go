package wa

import "errors"

// Expected failure values. Background lifecycle failures are surfaced as bus
// events and never propagate; these values exist for the synchronous call
// sites (control surface pass-throughs) that do return errors to callers.
var (
	// ErrNotConnected is returned by send/query operations when no live
	// transport handle exists at call time.
	ErrNotConnected = errors.New("transport not connected")

	// ErrMissingPhoneNumber aborts a pairing attempt that has no phone
	// number to pair against. Attempt-scoped, never fatal to the process.
	ErrMissingPhoneNumber = errors.New("phoneNumber is empty")

	// ErrNoQRChallenge is returned when the control surface asks for a QR
	// challenge and none is currently outstanding.
	ErrNoQRChallenge = errors.New("no QR challenge available")

	// ErrNoPairingCode is returned when no pairing code has been issued yet.
	ErrNoPairingCode = errors.New("no pairing code available")
)

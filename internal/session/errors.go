package session

import (
	"errors"
	"fmt"
)

// Error kinds. Notices and failures are wrapped with one of these so callers
// can classify them with errors.Is.
var (
	ErrInvalidInput = errors.New("session: invalid input")
	ErrCredential   = errors.New("session: credential error")
	ErrChannel      = errors.New("session: channel error")
	ErrEndpoint     = errors.New("session: endpoint error")
	ErrTransient    = errors.New("session: transient failure")
)

var (
	ErrInvalidState       = errors.New("session: not allowed in current state")
	ErrNoPendingOffer     = fmt.Errorf("%w: no pending offer", ErrInvalidState)
	ErrNoActiveConference = fmt.Errorf("%w: no active conference", ErrInvalidInput)
	ErrInvalidPhone       = fmt.Errorf("%w: not a phone number", ErrInvalidInput)
	ErrNotStarted         = fmt.Errorf("%w: session not started", ErrInvalidState)
	ErrStopped            = errors.New("session: coordinator stopped")
)

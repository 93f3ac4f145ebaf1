package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Domain taxonomy. Callers wrap these with %w and match them with errors.Is.
var (
	// ErrFetch means a status provider was unreachable or returned an invalid response.
	ErrFetch = stderrors.New("status fetch failed")

	// ErrEditTargetMissing means the synced message was deleted outside the bot.
	ErrEditTargetMissing = stderrors.New("synced message no longer exists")

	// ErrActionRejected means the remote action adapter reported a failure.
	ErrActionRejected = stderrors.New("remote action rejected")

	// ErrActionNotAllowed is returned when the button table disables the action
	// for the current status. It matches ErrActionRejected.
	ErrActionNotAllowed = fmt.Errorf("%w: not allowed in current state", ErrActionRejected)

	// ErrInvalidAction means the control action name is not start, stop or restart.
	ErrInvalidAction = stderrors.New("invalid control action")

	// ErrRecoveryFailure means resuming one stored session failed.
	ErrRecoveryFailure = stderrors.New("session recovery failed")

	// ErrAlreadyRegistered is returned by the scheduler for a key that is already active.
	ErrAlreadyRegistered = stderrors.New("monitor already registered")

	// ErrUnknownMonitor is returned when a monitor key is not configured.
	ErrUnknownMonitor = stderrors.New("unknown monitor")
)

// Fetch wraps a provider failure as ErrFetch.
func Fetch(provider string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrFetch, provider, err)
}

// Rejected wraps a remote action failure as ErrActionRejected.
func Rejected(action, target string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s %s: %w", ErrActionRejected, action, target, err)
}

// IsDiscordNotFound reports whether err is a Discord REST error for a message
// or channel that no longer exists.
func IsDiscordNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !stderrors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return true
		}
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// Is, As, New and Join re-export the standard library helpers so callers that
// import this package under the name "errors" keep them at hand.
func Is(err, target error) bool    { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func New(text string) error         { return stderrors.New(text) }
func Join(errs ...error) error      { return stderrors.Join(errs...) }

package errutil

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/log"
)

// HandleDiscordError runs fn and logs a failure with the REST status and
// Discord error code when there is one. A missing message or channel is an
// expected outcome for synced messages and is logged at debug level.
// The error from fn is returned unchanged.
func HandleDiscordError(operation string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("%s: nil function provided", operation)
	}

	started := time.Now()
	err := fn()
	if err == nil {
		return nil
	}

	args := []any{
		"operation", operation,
		"elapsed", time.Since(started).Round(time.Millisecond),
		"err", err,
	}
	var restErr *discordgo.RESTError
	if stderrors.As(err, &restErr) {
		if restErr.Response != nil {
			args = append(args, "status", restErr.Response.StatusCode)
		}
		if restErr.Message != nil {
			args = append(args, "code", restErr.Message.Code)
		}
	}
	if apperrors.IsDiscordNotFound(err) {
		log.DiscordLogger().Debug("Discord target not found", args...)
		return err
	}
	log.DiscordLogger().Error("Discord operation failed", args...)
	return err
}

// HandleConfigError runs fn and wraps a failure with the operation and path.
func HandleConfigError(operation, path string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("config %s %s: nil function provided", operation, path)
	}

	err := fn()
	if err == nil {
		return nil
	}

	log.ApplicationLogger().Error("Config operation failed", "operation", operation, "path", path, "err", err)
	return fmt.Errorf("config %s %s: %w", operation, path, err)
}

package main

import (
	"errors"
	"fmt"
)

// Every error kind below is a local validation failure: the action is
// rejected, game state is left exactly as it was, and the caller may retry
// with corrected input. The HTTP layer maps them to 400 responses.

// ConfigError rejects a bad game setup. Fatal to game creation, never
// retried automatically.
type ConfigError struct{ Msg string }

// InvalidTeamError rejects a proposed team of the wrong size or with
// invalid or duplicate members.
type InvalidTeamError struct{ Msg string }

// InvalidActionForPhaseError rejects an action the current phase does not
// accept, or one submitted by a player the phase is not waiting on.
type InvalidActionForPhaseError struct{ Msg string }

// DuplicateVoteError rejects a second vote from the same player in the
// same round. Returned rather than silently ignored so clients can detect
// desync.
type DuplicateVoteError struct{ Msg string }

// UnknownPlayerError rejects an action naming a player id that is not
// seated in the game.
type UnknownPlayerError struct{ Msg string }

// GameOverError rejects any game action submitted after the game ended.
type GameOverError struct{ Msg string }

func (e *ConfigError) Error() string                { return e.Msg }
func (e *InvalidTeamError) Error() string           { return e.Msg }
func (e *InvalidActionForPhaseError) Error() string { return e.Msg }
func (e *DuplicateVoteError) Error() string         { return e.Msg }
func (e *UnknownPlayerError) Error() string         { return e.Msg }
func (e *GameOverError) Error() string              { return e.Msg }

// BotTimeoutError records a bot decision that timed out or failed. It is
// recovered internally with a fallback decision and logged; human callers
// never see it as a hard failure.
type BotTimeoutError struct {
	PlayerID string
	Err      error
}

func (e *BotTimeoutError) Error() string {
	return fmt.Sprintf("bot %s decision failed: %v", e.PlayerID, e.Err)
}

func (e *BotTimeoutError) Unwrap() error { return e.Err }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

func invalidTeamf(format string, args ...any) error {
	return &InvalidTeamError{Msg: fmt.Sprintf(format, args...)}
}

func invalidPhasef(format string, args ...any) error {
	return &InvalidActionForPhaseError{Msg: fmt.Sprintf(format, args...)}
}

func duplicateVotef(format string, args ...any) error {
	return &DuplicateVoteError{Msg: fmt.Sprintf(format, args...)}
}

func unknownPlayerf(format string, args ...any) error {
	return &UnknownPlayerError{Msg: fmt.Sprintf(format, args...)}
}

func gameOverf(format string, args ...any) error {
	return &GameOverError{Msg: fmt.Sprintf(format, args...)}
}

// isValidationError reports whether err is one of the player-input error
// kinds, as opposed to an internal failure.
func isValidationError(err error) bool {
	var (
		cfg  *ConfigError
		team *InvalidTeamError
		ph   *InvalidActionForPhaseError
		dup  *DuplicateVoteError
		unk  *UnknownPlayerError
		over *GameOverError
	)
	return errors.As(err, &cfg) || errors.As(err, &team) || errors.As(err, &ph) ||
		errors.As(err, &dup) || errors.As(err, &unk) || errors.As(err, &over)
}

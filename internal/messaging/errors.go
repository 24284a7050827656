package messaging

import "errors"

// Domain errors. Handlers map these onto HTTP statuses; everything else is an
// internal error.
var (
	// ErrNotParticipant rejects callers outside the conversation's
	// participant set.
	ErrNotParticipant = errors.New("user is not a conversation participant")

	// ErrNotAuthor rejects edits by anyone but the message author.
	ErrNotAuthor = errors.New("only the author may edit a message")

	// ErrEmptyContent rejects messages with neither content nor attachment.
	ErrEmptyContent = errors.New("message content is empty and no attachment is present")

	// ErrNotText rejects edits of non-text messages.
	ErrNotText = errors.New("only text messages can be edited")

	// ErrUnsupportedKind rejects unknown message kinds.
	ErrUnsupportedKind = errors.New("unsupported message kind")

	// ErrNotFound marks a missing conversation or message.
	ErrNotFound = errors.New("not found")

	// ErrDirectParticipants rejects direct conversations without exactly two
	// participants.
	ErrDirectParticipants = errors.New("a direct conversation has exactly two participants")

	// ErrNoParticipants rejects conversations with an empty participant set.
	ErrNoParticipants = errors.New("a conversation needs at least one participant")
)

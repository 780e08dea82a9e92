package transfer

import "errors"

var (
	ErrSendBusy        = errors.New("a file is already being sent")
	ErrReceiveBusy     = errors.New("a file is already being received")
	ErrNoActiveSend    = errors.New("no file is being sent")
	ErrNoActiveReceive = errors.New("no file is being received")
	ErrChunkOutOfRange = errors.New("chunk index out of range")
	ErrChunkLength     = errors.New("chunk has the wrong length")
	ErrDuplicateChunk  = errors.New("chunk already received")
	ErrMissingChunk    = errors.New("chunk missing at assembly")
	ErrSessionClosed   = errors.New("session closed before transfer finished")
	ErrFileTooLarge    = errors.New("file exceeds the size limit")
)

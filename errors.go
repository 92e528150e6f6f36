package interproc

import "errors"

var (
	ErrInvalidCfg    = errors.New("interproc: invalid options")
	ErrChannelClosed = errors.New("interproc: channel is closed")
	ErrElection      = errors.New("interproc: election failed")

	ErrNoDescriptor      = errors.New("descriptor: not found")
	ErrDescriptorExists  = errors.New("descriptor: already present")
	ErrDescriptorCorrupt = errors.New("descriptor: malformed record")
)

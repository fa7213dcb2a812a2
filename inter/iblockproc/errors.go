package iblockproc

import "errors"

var (
	errNoMandates      = errors.New("iblockproc: validator mandates not initialized")
	errShardOutOfRange = errors.New("iblockproc: shard out of range")
)

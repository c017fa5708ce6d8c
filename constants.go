package etherlink

import (
	"github.com/ehrlich-b/go-etherlink/internal/constants"
	"github.com/ehrlich-b/go-etherlink/internal/csr"
)

// Re-export constants for public API
const (
	DefaultUIOPath        = constants.DefaultUIOPath
	DefaultStartAddress   = constants.DefaultStartAddress
	DefaultH2TT2HMemSize  = constants.DefaultH2TT2HMemSize
	DefaultPort           = constants.DefaultPort
	DefaultMgmtPort       = constants.DefaultMgmtPort
	DefaultListenIP       = constants.DefaultListenIP
	MaxDescriptorDepth    = constants.MaxDescriptorDepth
	HeaderScratch         = constants.HeaderScratch
	DefaultPollBackoffMin = constants.PollBackoffMin
	DefaultPollBackoffMax = constants.PollBackoffMax
)

// Interrupt mask bits for Server.MaskInterrupts
const (
	InterruptMaskH2T     = csr.MaskH2T
	InterruptMaskT2H     = csr.MaskT2H
	InterruptMaskMgmt    = csr.MaskMgmt
	InterruptMaskMgmtRsp = csr.MaskMgmtRsp
)

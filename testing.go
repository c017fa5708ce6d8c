package etherlink

import (
	"github.com/ehrlich-b/go-etherlink/internal/simdev"
)

// Simulator is an in-process model of the streaming debug IP. It implements
// RegisterCloser, loops H2T traffic back to T2H when hardware loopback is on
// and lets tests inject target traffic and retire host descriptors.
type Simulator = simdev.Device

// SimulatorConfig describes the simulated IP.
type SimulatorConfig = simdev.Config

// SimulatedDescriptor is one transfer as seen by the simulated device.
type SimulatedDescriptor = simdev.Descriptor

// DefaultSimulatorConfig returns a version 1 IP with 4KB data regions and a
// management pair.
func DefaultSimulatorConfig() SimulatorConfig {
	return simdev.DefaultConfig()
}

// NewSimulator creates a simulated IP.
// This is useful for testing clients without FPGA hardware.
func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	return simdev.New(cfg)
}

package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/mcuadros/go-defaults"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/srg/bleprox/internal/radio"
	"github.com/srg/bleprox/medium"
)

// DefaultPipeCharacteristicUUID is the data-pipe characteristic used when a
// profile does not name one. Both sides of a connection must agree on it.
const DefaultPipeCharacteristicUUID = "0000fec9-0000-1000-8000-00805f9b34fb"

// Profile is a YAML service description shared between the listening and the
// connecting side of a deployment.
type Profile struct {
	ServiceUUID            string `yaml:"serviceUuid"`
	ServiceData            string `yaml:"serviceData"` // hex encoded payload
	PipeCharacteristicUUID string `yaml:"pipeCharacteristicUuid" default:"0000fec9-0000-1000-8000-00805f9b34fb"`

	Advertise medium.AdvertiseOptions `yaml:"advertise"`
	Discovery medium.DiscoveryOptions `yaml:"discovery"`
}

// NewProfile returns a profile with defaults applied.
func NewProfile() *Profile {
	p := &Profile{}
	defaults.SetDefaults(p)
	defaults.SetDefaults(&p.Advertise)
	defaults.SetDefaults(&p.Discovery)
	return p
}

// LoadProfile reads and validates a YAML profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}

	p := NewProfile()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the UUIDs and the service data encoding.
func (p *Profile) Validate() error {
	if p.ServiceUUID == "" {
		return fmt.Errorf("serviceUuid is required")
	}
	if _, err := radio.ValidateUUID(p.ServiceUUID); err != nil {
		return fmt.Errorf("serviceUuid: %w", err)
	}
	if _, err := radio.ValidateUUID(p.PipeCharacteristicUUID); err != nil {
		return fmt.Errorf("pipeCharacteristicUuid: %w", err)
	}
	if p.ServiceData != "" {
		if _, err := hex.DecodeString(p.ServiceData); err != nil {
			return fmt.Errorf("serviceData is not valid hex: %w", err)
		}
	}
	return nil
}

// ServiceDataBytes decodes the hex service data payload.
func (p *Profile) ServiceDataBytes() []byte {
	data, _ := hex.DecodeString(p.ServiceData)
	return data
}

// Summary renders the effective profile for display.
func (p *Profile) Summary() string {
	return fmt.Sprintf(
		"service:   %s\ndata:      %d bytes\npipe char: %s\nstrategy:  %s\n",
		radio.NormalizeUUID(p.ServiceUUID),
		len(p.ServiceDataBytes()),
		radio.NormalizeUUID(p.PipeCharacteristicUUID),
		p.Discovery.Strategy,
	)
}

// resolveProfile builds the effective profile for a command. The --profile
// file is loaded first when given, then per-command flags override its fields.
func resolveProfile(cmd *cobra.Command) (*Profile, error) {
	p := NewProfile()

	if path, _ := cmd.Flags().GetString("profile"); path != "" {
		loaded, err := LoadProfile(path)
		if err != nil {
			return nil, err
		}
		p = loaded
	}

	if cmd.Flags().Changed("service") {
		p.ServiceUUID, _ = cmd.Flags().GetString("service")
	}
	if cmd.Flags().Changed("data") {
		p.ServiceData, _ = cmd.Flags().GetString("data")
	}
	if cmd.Flags().Changed("pipe-char") {
		p.PipeCharacteristicUUID, _ = cmd.Flags().GetString("pipe-char")
	}
	if cmd.Flags().Changed("name") {
		p.Advertise.DeviceName, _ = cmd.Flags().GetString("name")
	}
	if cmd.Flags().Changed("low-power") {
		low, _ := cmd.Flags().GetBool("low-power")
		p.Advertise.LowPower = low
		p.Discovery.LowPower = low
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

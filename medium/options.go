package medium

import (
	"github.com/mcuadros/go-defaults"
	"github.com/srg/bleprox/internal/radio"
)

// Kind names a proximity transport. Only BLE is implemented here; the other
// kinds exist so option selectors round-trip unchanged through upper layers.
type Kind string

const (
	KindBLE       Kind = "ble"
	KindBluetooth Kind = "bluetooth"
	KindWifiLAN   Kind = "wifi_lan"
	KindWebRTC    Kind = "web_rtc"
)

// AllKinds lists every known transport kind.
func AllKinds() []Kind {
	return []Kind{KindBLE, KindBluetooth, KindWifiLAN, KindWebRTC}
}

// AdvertiseOptions tunes an advertising session.
type AdvertiseOptions struct {
	DeviceName  string `yaml:"deviceName"`
	Connectable bool   `yaml:"connectable" default:"true"`
	LowPower    bool   `yaml:"lowPower"`
}

// NewAdvertiseOptions returns advertise options with defaults applied.
func NewAdvertiseOptions() *AdvertiseOptions {
	opts := &AdvertiseOptions{}
	defaults.SetDefaults(opts)
	return opts
}

// TxPower maps the low-power flag to a radio power level.
func (o AdvertiseOptions) TxPower() radio.PowerLevel {
	if o.LowPower {
		return radio.PowerLow
	}
	return radio.PowerHigh
}

// DiscoveryOptions selects which transports a discovery session may use.
type DiscoveryOptions struct {
	Strategy                     string `yaml:"strategy" default:"p2p_cluster"`
	Kinds                        []Kind `yaml:"mediums"`
	OutOfBand                    bool   `yaml:"outOfBand"`
	FastAdvertisementServiceUUID string `yaml:"fastAdvertisementServiceUuid"`
	LowPower                     bool   `yaml:"lowPower"`
}

// NewDiscoveryOptions returns discovery options with defaults applied.
func NewDiscoveryOptions() *DiscoveryOptions {
	opts := &DiscoveryOptions{}
	defaults.SetDefaults(opts)
	return opts
}

// CompatibleOptions normalizes a selector before use. An empty kind list
// allows every transport. Out-of-band connections support exactly one
// transport, so a wider selection collapses to BLE.
func (o DiscoveryOptions) CompatibleOptions() DiscoveryOptions {
	out := o
	if len(out.Kinds) == 0 {
		out.Kinds = AllKinds()
	}
	if out.OutOfBand && len(out.Kinds) != 1 {
		out.Kinds = []Kind{KindBLE}
	}
	return out
}

// Allows reports whether the selector permits the given transport kind.
func (o DiscoveryOptions) Allows(kind Kind) bool {
	for _, k := range o.Kinds {
		if k == kind {
			return true
		}
	}
	return len(o.Kinds) == 0
}

package simulator

import (
	"AtmSP/internal/adapters/registry"
	"AtmSP/internal/core/ports"
	"AtmSP/internal/shared/config"

	"github.com/rs/zerolog"
)

// Type tags used in the devices document.
const (
	TypeCardReader = "card_reader"
	TypePinPad     = "pin_pad"
)

func init() {
	registry.Register(TypeCardReader, func(dc config.DeviceConfig, baseLogger *zerolog.Logger) ports.ServiceProvider {
		var opts []CardReaderOption
		if dc.Features.EMV {
			opts = append(opts, WithChip(dc.Features.Contactless))
		}
		return NewCardReader(baseLogger, opts...)
	})
	registry.Register(TypePinPad, func(dc config.DeviceConfig, baseLogger *zerolog.Logger) ports.ServiceProvider {
		return NewPinPad(baseLogger, WithBypassAllowed(dc.Features.BypassAllowed))
	})
}

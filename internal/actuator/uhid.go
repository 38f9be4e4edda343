package actuator

import (
	"fmt"

	"github.com/neuroplastio/neio-midi/pkg/hidkeys"
)

type UhidConfig struct {
	Name      string `json:"name"`
	VendorID  uint32 `json:"vendorId"`
	ProductID uint32 `json:"productId"`
}

func DefaultUhidConfig() UhidConfig {
	return UhidConfig{
		Name:      "neio-midi keyboard",
		VendorID:  0x1209,
		ProductID: 0x4d49,
	}
}

// resolveKeys maps every keymap symbol to its usage. A keymap with a symbol
// the virtual keyboard cannot type is rejected.
func resolveKeys(keys []string) (map[string]hidkeys.Usage, error) {
	usages := make(map[string]hidkeys.Usage, len(keys))
	for _, k := range keys {
		u, err := hidkeys.Lookup(k)
		if err != nil {
			return nil, fmt.Errorf("keymap is not typeable: %w", err)
		}
		usages[k] = u
	}
	return usages, nil
}

// mergeKeys resolves keys and carries over symbols of the old set whose
// usage is still down, so a key pressed before the swap can be released.
func mergeKeys(old map[string]hidkeys.Usage, keys []string, state *keyboardState) (map[string]hidkeys.Usage, error) {
	usages, err := resolveKeys(keys)
	if err != nil {
		return nil, err
	}
	for sym, u := range old {
		if _, ok := usages[sym]; !ok && state.isDown(u.Code) {
			usages[sym] = u
		}
	}
	return usages, nil
}

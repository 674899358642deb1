package core

import (
	"fmt"
	"strconv"
	"strings"
)

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// LookupPin parses a config pin name of the form "gpioN" (the
// convention used throughout standalone machine configs) into a
// GPIOPin. A bare "!gpioN" prefix-invert marker, if present, is
// stripped; callers track polarity themselves via their own Invert
// config fields.
func LookupPin(name string) (GPIOPin, error) {
	trimmed := strings.TrimPrefix(name, "!")
	trimmed = strings.TrimPrefix(strings.ToLower(trimmed), "gpio")
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid pin name %q", name)
	}
	return GPIOPin(n), nil
}

// GPIODriver is the abstract GPIO interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output
	// Returns error if pin is invalid or already in use
	ConfigureOutput(pin GPIOPin) error

	// ConfigureInputPullUp configures a pin as a digital input with pull-up resistor
	ConfigureInputPullUp(pin GPIOPin) error

	// ConfigureInputPullDown configures a pin as a digital input with pull-down resistor
	ConfigureInputPullDown(pin GPIOPin) error

	// SetPin sets the pin to high (true) or low (false)
	SetPin(pin GPIOPin, value bool) error

	// GetPin reads the current pin state
	GetPin(pin GPIOPin) (bool, error)

	// ReadPin reads the current pin state (alias for GetPin for convenience)
	ReadPin(pin GPIOPin) bool
}

// Global singleton used by core code.
var gpioDriver GPIODriver

// SetGPIODriver is called by target-specific code to register its driver.
func SetGPIODriver(d GPIODriver) {
	gpioDriver = d
}

// MustGPIO returns the configured driver or panics if missing.
func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("GPIO driver not configured")
	}
	return gpioDriver
}

// GetGPIODriver returns the configured driver, or nil if none has been
// registered yet.
func GetGPIODriver() GPIODriver {
	return gpioDriver
}

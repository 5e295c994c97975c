package utils

import "errors"

// ErrInvalidConversion is returned when a selling-unit conversion factor is zero or negative.
var ErrInvalidConversion = errors.New("invalid conversion factor, must be greater than zero")

// ToBaseQuantity converts a quantity expressed in a selling unit into the item's
// base-stock unit. conversionFactor expresses "1 selling unit = conversionFactor base units".
func ToBaseQuantity(sellingUnitQty, conversionFactor float64) (float64, error) {
	if conversionFactor <= 0 {
		return 0, ErrInvalidConversion
	}
	return sellingUnitQty * conversionFactor, nil
}

// FromBaseQuantity converts a base-unit quantity back into the given selling unit.
func FromBaseQuantity(baseQty, conversionFactor float64) (float64, error) {
	if conversionFactor <= 0 {
		return 0, ErrInvalidConversion
	}
	return baseQty / conversionFactor, nil
}

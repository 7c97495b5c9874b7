package schedule

import "labmigrate/internal/domain"

// A first age above hoursThreshold puts the whole event in hours.
const hoursThreshold = 10

// ResolveAgeUnit decides the unit for all slots of one event by looking only
// at the first slot. An absent or non-numeric first age means days.
func ResolveAgeUnit(ages [SlotCount]string) domain.AgeUnit {
	v, ok, err := parseOptionalFloat(ages[0])
	if err != nil || !ok {
		return domain.Days
	}
	if v > hoursThreshold {
		return domain.Hours
	}
	return domain.Days
}

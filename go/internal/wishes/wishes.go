package wishes

import (
	"math/rand/v2"
)

// AgeGroup buckets participants for wish selection. Upper bounds are inclusive.
type AgeGroup string

const (
	AgeGroup0to6   AgeGroup = "0_6"
	AgeGroup6to12  AgeGroup = "6_12"
	AgeGroup12to16 AgeGroup = "12_16"
	AgeGroup16to18 AgeGroup = "16_18"
	AgeGroup18to22 AgeGroup = "18_22"
	AgeGroup22to30 AgeGroup = "22_30"
	AgeGroup30to40 AgeGroup = "30_40"
	AgeGroup40Plus AgeGroup = "40_plus"

	// AgeGroupAll marks wishes that suit any age.
	AgeGroupAll AgeGroup = "all"

	// DefaultAgeGroup is used when a participant has no (valid) age.
	DefaultAgeGroup = AgeGroup22to30
)

// FallbackText is handed out when no active wish matches.
const FallbackText = "Chúc mừng năm mới!"

// AgeGroups lists the concrete groups, youngest first.
var AgeGroups = []AgeGroup{
	AgeGroup0to6,
	AgeGroup6to12,
	AgeGroup12to16,
	AgeGroup16to18,
	AgeGroup18to22,
	AgeGroup22to30,
	AgeGroup30to40,
	AgeGroup40Plus,
}

// AgeGroupFor maps an age in years to its group.
func AgeGroupFor(age *int) AgeGroup {
	if age == nil || *age < 0 {
		return DefaultAgeGroup
	}
	switch a := *age; {
	case a <= 6:
		return AgeGroup0to6
	case a <= 12:
		return AgeGroup6to12
	case a <= 16:
		return AgeGroup12to16
	case a <= 18:
		return AgeGroup16to18
	case a <= 22:
		return AgeGroup18to22
	case a <= 30:
		return AgeGroup22to30
	case a <= 40:
		return AgeGroup30to40
	default:
		return AgeGroup40Plus
	}
}

// Valid reports whether g is a known group, including AgeGroupAll.
func (g AgeGroup) Valid() bool {
	if g == AgeGroupAll {
		return true
	}
	for _, known := range AgeGroups {
		if g == known {
			return true
		}
	}
	return false
}

// Pick returns a random text from candidates, or FallbackText if there are none.
func Pick(candidates []string) string {
	if len(candidates) == 0 {
		return FallbackText
	}
	return candidates[rand.IntN(len(candidates))]
}

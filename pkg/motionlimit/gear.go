// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package motionlimit

import "fmt"

// Gear is the shifter position reported by the operator input.
type Gear int8

const (
	GearReverse Gear = -1
	GearNeutral Gear = 0
	GearLow     Gear = 1
	GearHigh    Gear = 2
)

func (g Gear) String() string {
	switch g {
	case GearReverse:
		return "R"
	case GearNeutral:
		return "N"
	case GearLow:
		return "1"
	case GearHigh:
		return "2"
	default:
		return fmt.Sprintf("Gear(%d)", int8(g))
	}
}

// ParseGear is the inverse of Gear.String.
func ParseGear(name string) (Gear, error) {
	for _, g := range []Gear{GearReverse, GearNeutral, GearLow, GearHigh} {
		if g.String() == name {
			return g, nil
		}
	}

	return GearNeutral, fmt.Errorf("unknown gear %q", name)
}

// GearTable maps a shifter position to its gear multiplier.
type GearTable map[Gear]float64

// DefaultGearTable returns the stock gear multipliers.
func DefaultGearTable() GearTable {
	return GearTable{
		GearReverse: 0.35,
		GearNeutral: 0,
		GearLow:     0.5,
		GearHigh:    1.0,
	}
}

// Multiplier returns the clamped multiplier for g. Unknown gears map to 0.
func (t GearTable) Multiplier(g Gear) float64 {
	m, ok := t[g]
	if !ok {
		return 0
	}

	return Clamp01(m)
}

// Clone returns a copy of t with every multiplier clamped to [0,1].
func (t GearTable) Clone() GearTable {
	out := make(GearTable, len(t))
	for g, m := range t {
		out[g] = Clamp01(m)
	}

	return out
}

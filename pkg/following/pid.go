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

package following

import "time"

// pid is a discrete PID evaluated at a fixed dt.
// The integral is clamped symmetrically and the derivative is taken on the error.
type pid struct {
	kp, ki, kd    float64
	integralLimit float64

	integral    float64
	lastError   float64
	initialized bool
}

func (p *pid) step(err float64, dt time.Duration) float64 {
	seconds := dt.Seconds()

	p.integral += err * seconds
	if p.integral > p.integralLimit {
		p.integral = p.integralLimit
	} else if p.integral < -p.integralLimit {
		p.integral = -p.integralLimit
	}

	derivative := 0.0
	if p.initialized && seconds > 0 {
		derivative = (err - p.lastError) / seconds
	}

	p.lastError = err
	p.initialized = true

	return p.kp*err + p.ki*p.integral + p.kd*derivative
}

func (p *pid) reset() {
	p.integral = 0
	p.lastError = 0
	p.initialized = false
}

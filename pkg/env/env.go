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

// Package env reads typed settings from the process environment.
//
// An unset or empty variable yields the default, or an error when it is required.
// A variable that is set but does not parse is always an error, so a typo never
// silently falls back to the default.
package env

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var errNotBool = errors.New("not a boolean")

var boolWords = map[string]bool{
	"true": true, "1": true, "yes": true, "y": true, "on": true,
	"false": false, "0": false, "no": false, "n": false, "off": false,
}

func lookup[T any](key string, required bool, defaultValue T, parse func(string) (T, error)) (T, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		if required {
			return defaultValue, fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	v, err := parse(raw)
	if err != nil {
		return defaultValue, fmt.Errorf("environment variable %s=%q: %w", key, raw, err)
	}

	return v, nil
}

// GetAsString returns the variable as is, apart from surrounding whitespace.
func GetAsString(key string, required bool, defaultValue string) (string, error) {
	return lookup(key, required, defaultValue, func(s string) (string, error) { return s, nil })
}

// GetAsInt parses the variable as a base-10 integer.
func GetAsInt(key string, required bool, defaultValue int) (int, error) {
	return lookup(key, required, defaultValue, strconv.Atoi)
}

// GetAsBool accepts true/false, 1/0, yes/no, y/n and on/off in any case.
func GetAsBool(key string, required bool, defaultValue bool) (bool, error) {
	return lookup(key, required, defaultValue, func(s string) (bool, error) {
		b, ok := boolWords[strings.ToLower(s)]
		if !ok {
			return false, errNotBool
		}

		return b, nil
	})
}

// GetAsDuration parses the variable with time.ParseDuration, e.g. "200ms".
func GetAsDuration(key string, required bool, defaultValue time.Duration) (time.Duration, error) {
	return lookup(key, required, defaultValue, time.ParseDuration)
}

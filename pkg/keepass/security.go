// Copyright 2025 The Libkeepass Authors
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

package keepass

// A ProtectedString is a string together with a flag recording whether
// it is stored obfuscated inside the database payload. Two protected
// strings are equal when both the value and the flag match.
type ProtectedString struct {
	value     string
	protected bool
}

// NewProtectedString wraps value with the given protection flag.
func NewProtectedString(value string, protected bool) ProtectedString {
	return ProtectedString{value: value, protected: protected}
}

// PlainString wraps value as unprotected.
func PlainString(value string) ProtectedString {
	return ProtectedString{value: value}
}

// Value returns the wrapped string.
func (s ProtectedString) Value() string { return s.value }

// IsProtected reports whether the string is flagged for protection.
func (s ProtectedString) IsProtected() bool { return s.protected }

// Empty reports whether the wrapped string is empty.
func (s ProtectedString) Empty() bool { return s.value == "" }

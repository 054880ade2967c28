/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"fmt"
	"strings"
)

// Permission is a bitmask of region capabilities.
type Permission uint32

const (
	// PermMap allows the region to be mapped at all.
	PermMap Permission = 1 << iota
	PermWrite
	PermRead
	// PermTransfer allows the region to be handed to another task.
	PermTransfer
)

// PermNone is the empty mask.
const PermNone Permission = 0

var permNames = []struct {
	perm Permission
	name string
}{
	{PermMap, "map"},
	{PermWrite, "write"},
	{PermRead, "read"},
	{PermTransfer, "transfer"},
}

// Has reports whether any bit of perm is set in p.
func (p Permission) Has(perm Permission) bool {
	return p&perm != 0
}

func (p Permission) String() string {
	if p == PermNone {
		return "none"
	}
	var parts []string
	rest := p
	for _, n := range permNames {
		if p&n.perm != 0 {
			parts = append(parts, n.name)
			rest &^= n.perm
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ParsePermission combines capability names ("map", "write", "read",
// "transfer", case-insensitive) into a mask.
func ParsePermission(names ...string) (Permission, error) {
	var p Permission
	for _, name := range names {
		found := false
		for _, n := range permNames {
			if strings.EqualFold(strings.TrimSpace(name), n.name) {
				p |= n.perm
				found = true
				break
			}
		}
		if !found {
			return PermNone, fmt.Errorf("unknown permission %q", name)
		}
	}
	return p, nil
}

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

package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/srediag/sentry-shm/api"
	"github.com/srediag/sentry-shm/pkg/simkernel"
)

var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest lists the regions to declare and how to provision them.
type Manifest struct {
	Regions []RegionSpec `yaml:"regions"`
}

// RegionSpec declares one region. Handle and Base are optional: a zero
// handle is assigned by the kernel and a zero base backs the region with
// host memory.
type RegionSpec struct {
	Label  uint32   `yaml:"label"`
	Handle uint32   `yaml:"handle,omitempty"`
	Base   uint64   `yaml:"base,omitempty"`
	Length uint64   `yaml:"length"`
	Perms  []string `yaml:"perms,omitempty"`
	Grant  *Grant   `yaml:"grant,omitempty"`
	Map    bool     `yaml:"map,omitempty"`
}

// Grant sets the credentials of a region before it is mapped.
type Grant struct {
	Task  uint32   `yaml:"task"`
	Perms []string `yaml:"perms"`
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes and validates a YAML manifest. Unknown fields are
// rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.UnmarshalWithOptions(data, &m, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks label and handle uniqueness, lengths and permission names.
func (m *Manifest) Validate() error {
	labels := make(map[uint32]struct{}, len(m.Regions))
	handles := make(map[uint32]struct{}, len(m.Regions))
	for i, r := range m.Regions {
		if _, dup := labels[r.Label]; dup {
			return fmt.Errorf("%w: region %d: duplicate label %#x", ErrInvalidManifest, i, r.Label)
		}
		labels[r.Label] = struct{}{}
		if r.Handle != 0 {
			if _, dup := handles[r.Handle]; dup {
				return fmt.Errorf("%w: region %d: duplicate handle %d", ErrInvalidManifest, i, r.Handle)
			}
			handles[r.Handle] = struct{}{}
		}
		if r.Length == 0 {
			return fmt.Errorf("%w: region %d: zero length", ErrInvalidManifest, i)
		}
		if _, err := api.ParsePermission(r.Perms...); err != nil {
			return fmt.Errorf("%w: region %d: %w", ErrInvalidManifest, i, err)
		}
		if r.Grant != nil {
			if _, err := api.ParsePermission(r.Grant.Perms...); err != nil {
				return fmt.Errorf("%w: region %d grant: %w", ErrInvalidManifest, i, err)
			}
		}
	}
	return nil
}

// Descriptors converts the manifest into simulator declarations.
func (m *Manifest) Descriptors() ([]simkernel.Descriptor, error) {
	out := make([]simkernel.Descriptor, 0, len(m.Regions))
	for _, r := range m.Regions {
		d, err := r.Descriptor()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Descriptor converts r into a simulator declaration.
func (r RegionSpec) Descriptor() (simkernel.Descriptor, error) {
	perms, err := api.ParsePermission(r.Perms...)
	if err != nil {
		return simkernel.Descriptor{}, fmt.Errorf("label %#x: %w", r.Label, err)
	}
	return simkernel.Descriptor{
		Label:  api.Label(r.Label),
		Handle: api.Handle(r.Handle),
		Base:   uintptr(r.Base),
		Length: uint(r.Length),
		Perms:  perms,
	}, nil
}

// GrantPermissions returns the grantee and permissions of r's grant. The
// boolean is false when r has no grant.
func (r RegionSpec) GrantPermissions() (api.TaskHandle, api.Permission, bool, error) {
	if r.Grant == nil {
		return 0, api.PermNone, false, nil
	}
	perms, err := api.ParsePermission(r.Grant.Perms...)
	if err != nil {
		return 0, api.PermNone, false, fmt.Errorf("label %#x grant: %w", r.Label, err)
	}
	return api.TaskHandle(r.Grant.Task), perms, true, nil
}

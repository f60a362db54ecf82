// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package rpc

import (
	"os"
	"sort"
)

// AllowList is the set of methods a server answers. An empty list allows everything.
type AllowList map[string]struct{}

// NewAllowList builds an allow list from method names.
func NewAllowList(methods ...string) AllowList {
	a := make(AllowList, len(methods))
	for _, m := range methods {
		a[m] = struct{}{}
	}
	return a
}

// Allows reports whether method may be called.
func (a AllowList) Allows(method string) bool {
	if len(a) == 0 {
		return true
	}
	_, ok := a[method]
	return ok
}

// UnmarshalJSON decodes a JSON array of method names.
func (a *AllowList) UnmarshalJSON(data []byte) error {
	var keys []string
	err := jsonAPI.Unmarshal(data, &keys)
	if err != nil {
		return err
	}

	*a = NewAllowList(keys...)

	return nil
}

// MarshalJSON encodes the list as a sorted JSON array.
func (a *AllowList) MarshalJSON() ([]byte, error) {
	var realA map[string]struct{} = *a
	keys := make([]string, 0, len(realA))
	for key := range realA {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return jsonAPI.Marshal(keys)
}

// ReadAllowList loads an allow list from a JSON file of the form {"allow": [...]}.
func ReadAllowList(path string) (AllowList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file struct {
		Allow AllowList `json:"allow"`
	}
	if err := jsonAPI.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Allow, nil
}

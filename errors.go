// Copyright 2024 The Cockroach Authors
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

package unordered

import "github.com/cockroachdb/errors"

// ErrKeyNotFound is returned by NodeMap.At when the key is not present. It
// is the out-of-range condition; At never inserts.
var ErrKeyNotFound = errors.New("key was not found in node map")

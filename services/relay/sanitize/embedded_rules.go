// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package sanitize

import (
	_ "embed"
)

// UnsafePatterns holds the raw bytes of unsafe_patterns.yaml, baked into the
// binary at compile time so the rule set cannot drift from the executable.
//
//go:embed unsafe_patterns.yaml
var UnsafePatterns []byte

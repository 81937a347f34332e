// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package datatypes

// MaxHostProblems caps how many recent problems a host summary carries.
const MaxHostProblems = 5

// HostProblem is one recent problem attached to a host summary.
type HostProblem struct {
	Name     string `json:"name"`
	Severity string `json:"severity"`
}

// HostSummary is the on-demand snapshot of a monitored host folded into a
// conversation by the lookup flow. It is never persisted.
type HostSummary struct {
	HostID   int64         `json:"host_id"`
	Name     string        `json:"name"`
	Enabled  bool          `json:"enabled"`
	Problems []HostProblem `json:"problems"`
}

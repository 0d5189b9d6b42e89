/*
Copyright 2024 Stamp Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"math"
	"time"
)

// positionEpoch is minute zero for wallet endpoint positions.
var positionEpoch = time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)

// WalletEndpointPosition maps a period start (unix seconds) to the index of the
// wallet sub-key used for the certificate: whole minutes since positionEpoch.
// It returns nil when start is not minute aligned, lies before the epoch or
// does not fit the position range.
func WalletEndpointPosition(start int64) *uint32 {
	startTime := time.Unix(start, 0).UTC()
	if startTime.Second() != 0 || startTime.Before(positionEpoch) {
		return nil
	}

	minutes := int64(startTime.Sub(positionEpoch) / time.Minute)
	if minutes > math.MaxInt32 {
		return nil
	}
	position := uint32(minutes)
	return &position
}

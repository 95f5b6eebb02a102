// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// CheckValid verifies the structural invariants of a bundle: exactly one
// payload block, the "last block" flag on the final block and nowhere
// else, and fragment fields only on fragments. All violations are
// collected and returned together.
func (b *Bundle) CheckValid() error {
	var result *multierror.Error

	payloads := 0
	for _, cb := range b.Blocks {
		if cb.Type == PayloadBlock {
			payloads++
		}
	}
	if payloads != 1 {
		result = multierror.Append(result,
			fmt.Errorf("bundle: expected one payload block, found %d", payloads))
	}

	for i, cb := range b.Blocks {
		isLast := i == len(b.Blocks)-1
		if cb.IsLast() != isLast {
			result = multierror.Append(result,
				fmt.Errorf("bundle: block %d (type %d) has wrong last-block flag", i, cb.Type))
		}
	}

	if !b.Flags.Has(IsFragment) && (b.FragOffset != 0 || b.AppDataLen != 0) {
		result = multierror.Append(result,
			fmt.Errorf("bundle: fragment fields set on a non-fragment"))
	}

	return result.ErrorOrNil()
}

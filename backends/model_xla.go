//go:build XLA || ALL

package backends

import (
	_ "github.com/gomlx/gomlx/backends/default" // import XLA backend
)

const xlaEnabled = true

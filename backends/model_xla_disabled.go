//go:build !XLA && !ALL

package backends

const xlaEnabled = false

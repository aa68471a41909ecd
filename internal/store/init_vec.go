//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec as an auto-loadable extension. Builds without
	// the tag fall back to the Go cosine path; detectVecExtension decides
	// at runtime.
	vec.Auto()
}

//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Built with -tags sqlite_vec,cgo, this registers the sqlite-vec extension
// with the cgo SQLite library through vec.Auto. The store opens its
// database through the pure-Go modernc.org/sqlite driver in every build, so
// no query uses the extension: NearestNeighbors always ranks by the
// brute-force vector_distance_cos function from vec_compat.go.
func init() {
	vec.Auto()
}

// Package id issues the run and article identifiers used across the
// pipeline. Snowflake IDs sort by creation time, so run listings come
// back in submission order without a separate sequence.
package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	gen     *snowflake.Node
	initErr error
	setup   sync.Once
)

// Init claims a node number for this process. The API server and the
// worker each run under a distinct node so a run created by one never
// collides with an article created by the other. Only the first call
// takes effect.
func Init(nodeID int64) error {
	setup.Do(func() {
		gen, initErr = snowflake.NewNode(nodeID)
	})
	return initErr
}

// New returns the next identifier. Init must have succeeded first.
func New() int64 {
	return gen.Generate().Int64()
}

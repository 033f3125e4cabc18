package utils

import (
	"context"
	"log"
	"runtime/debug"
)

// Go runs fn on a new goroutine and recovers any panic so a misbehaving
// callback cannot take the process down.
func Go(ctx context.Context, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("recovered from panic in goroutine: %v\n%s", r, debug.Stack())
			}
		}()
		select {
		case <-ctx.Done():
			return
		default:
		}
		fn()
	}()
}

//go:build !unix

package main

import "os"

// notifyCancel is a no-op where SIGUSR1 and friends do not exist. Publish
// eventbus.TypeTimerCancel from code instead.
func notifyCancel(string) (<-chan os.Signal, func()) {
	return make(chan os.Signal), func() {}
}

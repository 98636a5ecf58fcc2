//go:build !unix

package runtimeexec

import "errors"

func newShellExecutor() (Executor, error) {
	return nil, errors.New("shell executor requires a unix host")
}

// Package listing defines the remote directory listing collaborator consumed
// by the mirror orchestrator.
package listing

import "context"

// Lister produces the flat set of regular file names available under a remote
// directory. Directory entries are excluded and no ordering is guaranteed.
type Lister interface {
	ListFiles(ctx context.Context, remoteDir string) ([]string, error)
}

// ListerFunc adapts a function to the Lister interface.
type ListerFunc func(ctx context.Context, remoteDir string) ([]string, error)

func (f ListerFunc) ListFiles(ctx context.Context, remoteDir string) ([]string, error) {
	return f(ctx, remoteDir)
}

package cli

import (
	"context"
)

// version is set by the release build via -ldflags; "dev" otherwise.
var version = "dev"

// versionCmd prints the build version, a minimal leaf command in the
// same vein as the teacher's own version command, adapted to Kong's
// Run-method style instead of ffcli.Command.
type versionCmd struct{}

func (cmd *versionCmd) Run(ctx context.Context, eng *engine) error {
	eng.log.Infof("teapot %s", version)
	return nil
}

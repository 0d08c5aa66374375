package browser

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/services/auth"
	"github.com/ternarybob/colligo/internal/services/emulation"
)

// NewSurfaceFactory returns the factory the authentication state machine
// uses to open login surfaces. Login flows run on direct egress; the
// session's sticky identity takes over once extraction begins.
func NewSurfaceFactory(pool *Pool, emulator *emulation.Emulator, cfg common.BrowserConfig, logger arbor.ILogger) auth.SurfaceFactory {
	return func(ctx context.Context) (auth.Surface, func(), error) {
		tabCtx, release, err := pool.Acquire("direct")
		if err != nil {
			return nil, nil, err
		}
		return NewSurface(tabCtx, emulator, cfg, logger), release, nil
	}
}

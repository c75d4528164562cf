package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// NewContext initializes the shared miniaudio context the session
// supervisor uses for both its capture and playback devices, matching the
// samoyed example's single package-level malgo.InitContext call.
func NewContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}
	return ctx, nil
}

// CloseContext releases a context created by NewContext.
func CloseContext(ctx *malgo.AllocatedContext) {
	if ctx != nil {
		_ = ctx.Uninit()
		ctx.Free()
	}
}

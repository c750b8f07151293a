package recorder

import (
	"context"
	"fmt"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/mocap"
)

// Source is the engine read the recorder needs.
type Source interface {
	NewFrame(ctx context.Context) (mocap.Frame, error)
}

// Run records every frame published by src until ctx ends. Frames published
// while a previous one is being written are lost; Run never blocks the
// acquisition loop. It returns nil on cancellation and the read error when
// the source stops.
func (s *Store) Run(ctx context.Context, src Source, sessionID string) error {
	recorded := 0
	defer func() { logf("session %s: %d frames recorded", sessionID, recorded) }()
	for {
		f, err := src.NewFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if err := s.RecordFrame(ctx, sessionID, f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logf("frame %d not recorded: %v", f.Number, err)
			continue
		}
		recorded++
	}
}

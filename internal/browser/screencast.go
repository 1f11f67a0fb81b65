// internal/browser/screencast.go
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// screencast records DevTools screencast frames to a directory as numbered
// PNGs. It is a debugging aid for disputed captures, not part of the
// evidence set proper.
type screencast struct {
	dir    string
	frames atomic.Int64
	logger *zap.Logger
}

// StartVideo begins recording screencast frames into dir.
func (s *Session) StartVideo(ctx context.Context, dir string) error {
	if s.screencast != nil {
		return fmt.Errorf("screencast already running")
	}
	sc := &screencast{dir: dir, logger: s.logger.Named("screencast")}
	s.screencast = sc

	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		frame, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}
		sc.writeFrame(frame)
		// Ack on a separate goroutine; the listener must not block.
		go func() {
			if err := chromedp.Run(s.ctx, page.ScreencastFrameAck(frame.SessionID)); err != nil {
				sc.logger.Debug("Screencast frame ack failed.", zap.Error(err))
			}
		}()
	})

	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()
	return chromedp.Run(opCtx,
		page.StartScreencast().
			WithFormat(page.ScreencastFormatPng).
			WithEveryNthFrame(2),
	)
}

// StopVideo stops the recording.
func (s *Session) StopVideo(ctx context.Context) error {
	if s.screencast == nil {
		return nil
	}
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()
	err := s.screencast.stop(opCtx)
	s.logger.Info("Screencast recording stopped.",
		zap.Int64("frames", s.screencast.frames.Load()),
		zap.String("dir", s.screencast.dir))
	s.screencast = nil
	return err
}

func (sc *screencast) writeFrame(frame *page.EventScreencastFrame) {
	data, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		sc.logger.Debug("Discarding undecodable screencast frame.", zap.Error(err))
		return
	}
	n := sc.frames.Add(1)
	path := filepath.Join(sc.dir, fmt.Sprintf("frame-%06d.png", n))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		sc.logger.Debug("Failed to write screencast frame.", zap.Error(err))
	}
}

func (sc *screencast) stop(ctx context.Context) error {
	return chromedp.Run(ctx, page.StopScreencast())
}

package watch

import (
	"context"
	"fmt"

	"github.com/eiannone/keyboard"
)

// ListenKeys maps key presses to watcher actions: 'u' uploads now,
// 'q', Esc or Ctrl+C stop. It returns when ctx ends or a stop key is hit.
func ListenKeys(ctx context.Context, w *Watcher, stop context.CancelFunc) error {
	events, err := keyboard.GetKeys(10)
	if err != nil {
		return fmt.Errorf("failed to open keyboard: %w", err)
	}
	defer keyboard.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Err != nil {
				return ev.Err
			}
			switch {
			case ev.Key == keyboard.KeyEsc || ev.Key == keyboard.KeyCtrlC || ev.Rune == 'q':
				stop()
				return nil
			case ev.Rune == 'u':
				w.Trigger()
			}
		}
	}
}

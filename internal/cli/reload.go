package cli

import (
	"context"

	"github.com/memvra/companion/internal/config"
)

// watchConfig applies edits to the config file's prompt settings to the
// running engine until ctx is done. Storage and provider settings need a
// restart.
func (a *app) watchConfig(ctx context.Context, path string) {
	go func() {
		err := config.Watch(ctx, path, config.DefaultDebounce, a.applyConfig, func(err error) {
			a.log.Warn().Err(err).Msg("config reload failed, keeping the current settings")
		})
		if err != nil {
			a.log.Warn().Err(err).Msg("config watcher unavailable, edits apply on restart")
		}
	}()
}

func (a *app) applyConfig(cfg config.Config) {
	p := cfg.Prompt
	a.engine.SetAmbient(p.CompanionName, p.Location, p.TimeZone)
	a.log.Info().
		Str("companion_name", p.CompanionName).
		Str("location", p.Location).
		Str("timezone", p.TimeZone).
		Msg("prompt settings reloaded")
}

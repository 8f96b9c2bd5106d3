package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"vclip/server/internal/config"
	"vclip/server/internal/provider"
	"vclip/server/internal/store"
)

// openPersister opens the configured snapshot backend. close is never nil.
func openPersister(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Persister, func() error, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("ensure data dir: %w", err)
	}
	switch cfg.Storage.Persistence {
	case config.PersistenceFiles:
		return store.NewFilePersister(cfg.StatusDir(), logger), func() error { return nil }, nil
	default:
		p, err := store.OpenSQLite(ctx, cfg.DatabasePath(), logger)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
}

func buildProviders(cfg config.Config, logger *slog.Logger) provider.Set {
	if cfg.Pipeline.MockProviders {
		logger.Warn("mock_providers_enabled")
		return provider.NewMockAdapter(cfg.Storage.DataDir, 0).Set()
	}
	return provider.Set{
		Fetcher: provider.NewYTDLPFetcher(cfg.Tools.YTDLP, cfg.DownloadsDir(), cfg.Pipeline.DownloadTimeout()),
		Transcriber: provider.NewWhisperTranscriber(
			cfg.Tools.Whisper,
			cfg.Tools.WhisperModel,
			cfg.TranscriptsDir(),
			cfg.Pipeline.TranscribeTimeout(),
		),
		Selector: provider.NewLLMSelector(provider.LLMConfig{
			APIKey:      cfg.LLM.APIKey,
			Endpoint:    cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout(),
		}),
		Renderer: provider.NewFFmpegRenderer(cfg.Tools.FFmpeg, cfg.Pipeline.RenderTimeout()),
	}
}

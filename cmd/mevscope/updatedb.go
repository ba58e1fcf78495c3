package main

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/logger"
)

func updateDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-db",
		Short: "Download the latest signature dictionary",
		Long: `Download the signature dictionary snapshot (event and method
signatures) and install it under the data directory. The download lands
in a temporary file and is swapped in with a rename, so an interrupted
run never clobbers the existing dictionary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdateDB(cmd)
		},
	}
}

func runUpdateDB(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

	if err := installDictionary(ctx, cfg.DictionaryURL, cfg.DataDir, log); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "signature dictionary installed in %s\n", cfg.DataDir)
	return nil
}

// installDictionary downloads the gzipped sqlite snapshot into a temp
// file and renames it over the dictionary. The request context bounds
// the download; the client itself carries no timeout.
func installDictionary(ctx context.Context, url, dataDir string, log zerolog.Logger) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return scoperr.NewCacheError(0, "create data directory", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return scoperr.NewInternalError(0, "build dictionary request", err)
	}

	log.Info().Str("url", url).Msg("downloading signature dictionary")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return scoperr.NewConnectivityError(0, "download signature dictionary", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return scoperr.NewConnectivityError(0,
			fmt.Sprintf("dictionary download failed with status %s", resp.Status), nil)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return scoperr.NewCacheError(0, "dictionary snapshot is not gzip", err)
	}
	defer func() { _ = gz.Close() }()

	tmp, err := os.CreateTemp(dataDir, "signatures-*.db")
	if err != nil {
		return scoperr.NewCacheError(0, "create dictionary temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, gz); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return scoperr.NewCacheError(0, "write dictionary snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return scoperr.NewCacheError(0, "flush dictionary snapshot", err)
	}

	target := filepath.Join(dataDir, dictionaryDBName)
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return scoperr.NewCacheError(0, "install dictionary snapshot", err)
	}

	// Journal sidecars of the replaced database would pair with the old
	// file; they must not survive the swap.
	_ = os.Remove(target + "-wal")
	_ = os.Remove(target + "-shm")

	log.Info().Str("path", target).Msg("signature dictionary installed")
	return nil
}

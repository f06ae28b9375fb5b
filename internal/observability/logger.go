package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("session_id", sessionID).Logger(),
	}
}

// WithBundle adds bundle_id context to logger.
func (l *Logger) WithBundle(bundleID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("bundle_id", bundleID).Logger(),
	}
}

// WithFile adds file context to logger.
func (l *Logger) WithFile(filePath string, fileSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("file_path", filePath).
			Int64("file_size", fileSize).
			Logger(),
	}
}

// WithPhase adds pipeline phase context to logger.
func (l *Logger) WithPhase(phase string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("phase", phase).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// TransferStarted logs download session start.
func (l *Logger) TransferStarted(sessionID, manifestID string, totalFiles int, totalBytes int64) {
	l.logger.Info().
		Str("session_id", sessionID).
		Str("manifest_id", manifestID).
		Int("total_files", totalFiles).
		Int64("total_bytes", totalBytes).
		Msg("download session started")
}

// ChunkFetched logs a chunk delivered from the CDN or cache.
func (l *Logger) ChunkFetched(sessionID, chunkID, bundleID, source string, compressedSize int) {
	l.logger.Debug().
		Str("session_id", sessionID).
		Str("chunk_id", chunkID).
		Str("bundle_id", bundleID).
		Str("source", source).
		Int("compressed_size", compressedSize).
		Msg("chunk fetched")
}

// TransferProgress logs download session progress.
func (l *Logger) TransferProgress(sessionID string, filesDone, totalFiles int, elapsed time.Duration) {
	progress := float64(filesDone) / float64(totalFiles) * 100.0

	l.logger.Info().
		Str("session_id", sessionID).
		Int("files_done", filesDone).
		Int("total_files", totalFiles).
		Float64("progress_percent", progress).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("download progress")
}

// TransferCompleted logs download session completion.
func (l *Logger) TransferCompleted(sessionID string, filesComplete, filesPartial, chunksFetched int, duration time.Duration) {
	l.logger.Info().
		Str("session_id", sessionID).
		Int("files_complete", filesComplete).
		Int("files_partial", filesPartial).
		Int("chunks_fetched", chunksFetched).
		Float64("duration_seconds", duration.Seconds()).
		Msg("download session completed")
}

// ChunkHashMismatch logs a chunk whose on-disk bytes fail verification.
func (l *Logger) ChunkHashMismatch(filePath, chunkID string, uncompressedOffset uint64) {
	l.logger.Warn().
		Str("file_path", filePath).
		Str("chunk_id", chunkID).
		Uint64("uncompressed_offset", uncompressedOffset).
		Msg("chunk hash mismatch on disk")
}

// CacheRollover logs an active cache file being sealed.
func (l *Logger) CacheRollover(sealedPath string, sealedSize int64, nextSeq int) {
	l.logger.Info().
		Str("sealed_path", sealedPath).
		Int64("sealed_size", sealedSize).
		Int("next_seq", nextSeq).
		Msg("cache file sealed, rolling over")
}

// CDNRequestFailed logs a failed Range-GET.
func (l *Logger) CDNRequestFailed(url string, err error) {
	l.logger.Warn().
		Str("url", url).
		Err(err).
		Msg("CDN range request failed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

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

// SetLevel sets the minimum level of every logger; empty keeps the current level.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithRequest adds request_id context to logger.
func (l *Logger) WithRequest(requestID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("request_id", requestID).Logger(),
	}
}

// WithContent adds content_id context to logger.
func (l *Logger) WithContent(contentID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("content_id", contentID).Logger(),
	}
}

// WithPeer adds peer context to logger.
func (l *Logger) WithPeer(peer string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("peer", peer).Logger(),
	}
}

// WithComponent adds component context to logger.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("component", name).Logger(),
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

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info().Msgf(format, args...)
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

// RequestReceived logs an inbound paid request.
func (l *Logger) RequestReceived(kind string, envelopeSize int) {
	l.logger.Debug().
		Str("kind", kind).
		Int("envelope_size", envelopeSize).
		Msg("request received")
}

// PaymentRejected logs the specific reason an envelope failed verification.
// The caller only ever sees a permission error.
func (l *Logger) PaymentRejected(reason, detail string) {
	l.logger.Warn().
		Str("reason", reason).
		Str("detail", detail).
		Msg("payment rejected")
}

// PaymentCommitted logs a payment that landed on the ledger.
func (l *Logger) PaymentCommitted(digest, counterparty string, elapsed time.Duration) {
	l.logger.Info().
		Str("tx_digest", digest).
		Str("counterparty", counterparty).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("payment committed")
}

// SubmissionFailed logs a ledger execution failure.
func (l *Logger) SubmissionFailed(digest string, err error) {
	l.logger.Error().
		Str("tx_digest", digest).
		Err(err).
		Msg("ledger submission failed")
}

// StreamCompleted logs a fully served stream.
func (l *Logger) StreamCompleted(chunks int, bytes int64, duration time.Duration) {
	l.logger.Info().
		Int("chunks", chunks).
		Int64("bytes", bytes).
		Float64("duration_seconds", duration.Seconds()).
		Msg("stream completed")
}

// StreamAborted logs a stream stopped before end of file.
func (l *Logger) StreamAborted(chunks int, bytes int64, err error) {
	l.logger.Warn().
		Int("chunks", chunks).
		Int64("bytes", bytes).
		Err(err).
		Msg("stream aborted")
}

// IntegrityFailure logs a received chunk that did not match its signature.
func (l *Logger) IntegrityFailure(chunkIndex int, err error) {
	l.logger.Error().
		Int("chunk_index", chunkIndex).
		Err(err).
		Msg("chunk integrity check failed")
}

// ContentStored logs a payload written to the content store.
func (l *Logger) ContentStored(location string, size int64, chunks int) {
	l.logger.Info().
		Str("location", location).
		Int64("size", size).
		Int("chunks", chunks).
		Msg("content stored")
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

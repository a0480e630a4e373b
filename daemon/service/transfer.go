package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TunoMedia/TunoMedia/daemon/manager"
	"github.com/TunoMedia/TunoMedia/internal/chunker"
	"github.com/TunoMedia/TunoMedia/internal/ledger"
	"github.com/TunoMedia/TunoMedia/internal/observability"
	"github.com/TunoMedia/TunoMedia/internal/payment"
	"github.com/TunoMedia/TunoMedia/internal/ratelimit"
	"github.com/TunoMedia/TunoMedia/internal/storage"
)

var (
	// ErrEmptyMessage is returned by Echo for an empty message.
	ErrEmptyMessage = errors.New("message must not be empty")
	// ErrInvalidBlockSize is returned by StreamSong for a block size above the configured maximum.
	ErrInvalidBlockSize = errors.New("invalid block size")
	// ErrLedgerSubmission is returned when the ledger refuses to execute a verified payment.
	ErrLedgerSubmission = errors.New("ledger submission failed")
	// ErrContentNotFound is returned when a payment committed for content this node does not hold.
	ErrContentNotFound = errors.New("content not found")
	// ErrCancelled is returned by SongStream.Next after the stream was closed or its context ended.
	ErrCancelled = errors.New("stream cancelled")

	// errNotAccepted is what requests and events record for a refused payment.
	// The specific reason is only logged.
	errNotAccepted = errors.New("payment not accepted")
)

const (
	defaultQueueDepth   = 128
	defaultMaxBlockSize = 4 << 20
	progressEvery       = 64
)

// Options configures a TransferService. Zero values get defaults.
type Options struct {
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	Events       *EventPublisher
	Requests     *manager.RequestStore
	Audit        *manager.AuditStore // optional
	QueueDepth   int
	MaxBlockSize int
	StreamRate   int // bytes per second per stream, 0 is unlimited
}

// TransferService serves content in exchange for payments settled on the ledger.
type TransferService struct {
	verifier *payment.Verifier
	ledger   ledger.Ledger
	store    storage.Store

	logger   *observability.Logger
	metrics  *observability.Metrics
	events   *EventPublisher
	requests *manager.RequestStore
	audit    *manager.AuditStore

	queueDepth   int
	maxBlockSize int
	streamRate   int
}

// NewTransferService creates a transfer service
func NewTransferService(verifier *payment.Verifier, l ledger.Ledger, store storage.Store, opts Options) *TransferService {
	s := &TransferService{
		verifier:     verifier,
		ledger:       l,
		store:        store,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		events:       opts.Events,
		requests:     opts.Requests,
		audit:        opts.Audit,
		queueDepth:   opts.QueueDepth,
		maxBlockSize: opts.MaxBlockSize,
		streamRate:   opts.StreamRate,
	}
	if s.logger == nil {
		s.logger = observability.Nop()
	}
	if s.metrics == nil {
		s.metrics = observability.NewMetrics(nil)
	}
	if s.requests == nil {
		s.requests = manager.NewRequestStore()
	}
	if s.queueDepth <= 0 {
		s.queueDepth = defaultQueueDepth
	}
	if s.maxBlockSize <= 0 {
		s.maxBlockSize = defaultMaxBlockSize
	}
	return s
}

// Requests returns the registry of requests served by this service.
func (s *TransferService) Requests() *manager.RequestStore { return s.requests }

// Events returns the lifecycle event publisher, which may be nil.
func (s *TransferService) Events() *EventPublisher { return s.events }

// Identity returns the address payments must be made to.
func (s *TransferService) Identity() ledger.Address { return s.verifier.Identity() }

// Echo returns message unchanged.
func (s *TransferService) Echo(message string) (string, error) {
	if message == "" {
		return "", ErrEmptyMessage
	}
	return message, nil
}

// Offered lists the content ids held by the store.
func (s *TransferService) Offered(ctx context.Context) ([]ledger.ObjectID, error) {
	return s.store.List(ctx)
}

// FetchSong verifies and settles the payment in envelope and returns the whole payload.
func (s *TransferService) FetchSong(ctx context.Context, peer string, envelope []byte) ([]byte, error) {
	req, log, err := s.begin(manager.KindFetch, peer, envelope)
	if err != nil {
		return nil, err
	}
	t := &tracker{svc: s, req: req, log: log}

	proof, err := s.authorize(ctx, t, envelope)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.Tracer().Start(ctx, "tuno.serve",
		trace.WithAttributes(attribute.String("tuno.request_id", req.ID)))
	defer span.End()

	r, err := s.open(ctx, proof.ContentID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		t.finish(manager.StateAborted, err)
		return nil, err
	}
	defer r.Close()

	t.transition(manager.StateServing, "")
	data, err := io.ReadAll(r)
	if err != nil {
		err = fmt.Errorf("failed to read content: %w", err)
		span.SetStatus(codes.Error, err.Error())
		t.finish(manager.StateAborted, err)
		return nil, err
	}
	req.AddServed(len(data))
	s.metrics.RecordChunkServed(len(data))
	t.finish(manager.StateCompleted, nil)
	return data, nil
}

// StreamSong verifies and settles the payment in envelope and returns a stream of
// blocks of at most blockSize bytes. A zero blockSize selects the default.
// Every failure is reported here, before the first block.
func (s *TransferService) StreamSong(ctx context.Context, peer string, envelope []byte, blockSize int) (*SongStream, error) {
	if blockSize == 0 {
		blockSize = chunker.DefaultBlockSize
	}
	if blockSize < 0 || blockSize > s.maxBlockSize {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidBlockSize, blockSize, s.maxBlockSize)
	}

	req, log, err := s.begin(manager.KindStream, peer, envelope)
	if err != nil {
		return nil, err
	}
	req.BlockSize = blockSize
	t := &tracker{svc: s, req: req, log: log}

	proof, err := s.authorize(ctx, t, envelope)
	if err != nil {
		return nil, err
	}

	r, err := s.open(ctx, proof.ContentID)
	if err != nil {
		t.finish(manager.StateAborted, err)
		return nil, err
	}
	t.transition(manager.StateServing, "")
	s.metrics.RecordStreamStart()

	ctx, cancel := context.WithCancel(ctx)
	ctx, span := observability.Tracer().Start(ctx, "tuno.serve",
		trace.WithAttributes(
			attribute.String("tuno.request_id", req.ID),
			attribute.Int("tuno.block_size", blockSize),
		))

	st := &SongStream{
		ctx:     ctx,
		cancel:  cancel,
		span:    span,
		tracker: t,
		blocks:  make(chan []byte, s.queueDepth),
		done:    make(chan struct{}),
		pacer:   ratelimit.NewPacer(s.streamRate),
		start:   time.Now(),
	}
	go st.produce(r, blockSize)
	return st, nil
}

// begin registers a new request.
func (s *TransferService) begin(kind manager.RequestKind, peer string, envelope []byte) (*manager.Request, *observability.Logger, error) {
	req := manager.NewRequest(uuid.NewString(), kind, peer)
	if err := s.requests.Add(req); err != nil {
		return nil, nil, err
	}
	log := s.logger.WithRequest(req.ID).WithPeer(peer)
	log.RequestReceived(kind.String(), len(envelope))
	s.events.PublishReceived(req.ID, kind.String(), peer)
	return req, log, nil
}

// authorize runs the Verifying and Submitting stages. The request is left
// Committed on success and in its terminal state otherwise.
func (s *TransferService) authorize(ctx context.Context, t *tracker, envelope []byte) (*payment.Proof, error) {
	start := time.Now()
	tracer := observability.Tracer()

	t.transition(manager.StateVerifying, "")
	_, span := tracer.Start(ctx, "tuno.verify")
	proof, err := s.verifier.Verify(envelope)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()

		reason, detail := "unknown", err.Error()
		var authErr *payment.AuthError
		if errors.As(err, &authErr) {
			reason, detail = authErr.Kind.String(), authErr.Detail
		}
		t.log.PaymentRejected(reason, detail)
		s.metrics.RecordRejection(reason)
		s.events.PublishRejected(t.req.ID)
		t.finish(manager.StateRejected, errNotAccepted)
		return nil, err
	}
	span.End()

	digest := proof.Digest.String()
	t.req.SetPayment(proof.ContentID.Hex(), proof.Counterparty.Hex(), digest)
	t.log = t.log.WithContent(proof.ContentID.Hex())
	t.transition(manager.StateVerified, "")

	// Once issued, the submission outlives the requester.
	t.transition(manager.StateSubmitting, "")
	subCtx, span := tracer.Start(context.WithoutCancel(ctx), "tuno.submit",
		trace.WithAttributes(attribute.String("tuno.tx_digest", digest)))
	submitStart := time.Now()
	_, err = s.ledger.ExecuteTransaction(subCtx, proof.Transaction)
	s.metrics.RecordSubmission(err == nil, time.Since(submitStart).Seconds())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		t.log.SubmissionFailed(digest, err)
		s.events.PublishSubmissionFailed(t.req.ID)
		t.finish(manager.StateSubmissionFailed, errNotAccepted)
		err = fmt.Errorf("%w: %v", ErrLedgerSubmission, err)
		return nil, err
	}
	span.End()

	t.transition(manager.StateCommitted, "")
	t.log.PaymentCommitted(digest, proof.Counterparty.Hex(), time.Since(start))
	s.events.PublishCommitted(t.req.ID, proof.ContentID.Hex(), digest)
	return proof, nil
}

func (s *TransferService) open(ctx context.Context, id ledger.ObjectID) (io.ReadCloser, error) {
	r, err := s.store.Open(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, id.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open content %s: %w", id.Hex(), err)
	}
	return r, nil
}

// StartJanitor drops terminal requests older than maxAge from the registry every
// interval until ctx is done. Audited requests remain queryable in the database.
func (s *TransferService) StartJanitor(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.requests.CleanupOldRequests(maxAge); n > 0 {
					s.logger.Infof("Cleaned up %d finished requests", n)
				}
			}
		}
	}()
}

// tracker drives one request through its lifecycle and reports the terminal
// state exactly once.
type tracker struct {
	svc  *TransferService
	req  *manager.Request
	log  *observability.Logger
	once sync.Once
}

func (t *tracker) transition(state manager.RequestState, msg string) {
	if err := t.req.TransitionTo(state, msg); err != nil {
		t.log.Warn(fmt.Sprintf("Ignoring transition %s -> %s", t.req.GetState(), state))
	}
}

func (t *tracker) finish(state manager.RequestState, cause error) {
	t.once.Do(func() {
		msg := ""
		if cause != nil {
			msg = cause.Error()
		}
		t.transition(state, msg)

		snap := t.req.Snapshot()
		t.svc.metrics.RecordRequest(snap.Kind, state.String(), time.Since(snap.StartTime).Seconds())

		switch state {
		case manager.StateCompleted:
			t.svc.events.PublishCompleted(snap.ID, snap.BytesServed, time.Since(snap.StartTime))
		case manager.StateAborted:
			t.svc.events.PublishAborted(snap.ID, msg)
		}

		if t.svc.audit != nil {
			if err := t.svc.audit.SaveRequest(snap); err != nil {
				t.log.Error(err, "Failed to persist request")
			}
		}
	})
}

// SongStream is the consumer side of a StreamSong request. Blocks are produced
// into a bounded queue; a consumer that stops reading stalls the producer.
// A block counts as served once Next hands it out, and the request completes
// only when Next has returned io.EOF.
type SongStream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	span    trace.Span
	tracker *tracker
	blocks  chan []byte
	done    chan struct{}
	pacer   *ratelimit.Pacer
	start   time.Time

	// Set by the producer before blocks is closed.
	err error

	chunks    int
	endOnce   sync.Once
	closeOnce sync.Once
}

// RequestID returns the id of the underlying request.
func (st *SongStream) RequestID() string { return st.tracker.req.ID }

// Next returns the next block, io.EOF after the last one, or ErrCancelled once
// the stream has been closed.
func (st *SongStream) Next() ([]byte, error) {
	if st.ctx.Err() != nil {
		return nil, ErrCancelled
	}
	select {
	case b, ok := <-st.blocks:
		if !ok {
			if st.err != nil {
				st.end(manager.StateAborted, st.err)
				return nil, st.err
			}
			st.end(manager.StateCompleted, nil)
			return nil, io.EOF
		}
		if err := st.pacer.Wait(st.ctx, len(b)); err != nil {
			return nil, ErrCancelled
		}
		st.served(b)
		return b, nil
	case <-st.ctx.Done():
		return nil, ErrCancelled
	}
}

// Close stops the producer and waits until it has released the content.
// A stream closed before Next returned io.EOF is aborted.
// It is safe to call more than once and after the stream is exhausted.
func (st *SongStream) Close() error {
	st.closeOnce.Do(func() {
		st.cancel()
		<-st.done
		st.end(manager.StateAborted, ErrCancelled)
		st.span.End()
	})
	return nil
}

func (st *SongStream) served(block []byte) {
	t := st.tracker
	st.chunks++
	t.req.AddServed(len(block))
	t.svc.metrics.RecordChunkServed(len(block))
	if st.chunks%progressEvery == 0 {
		snap := t.req.Snapshot()
		t.svc.events.PublishProgress(snap.ID, snap.ChunksServed, snap.BytesServed)
	}
}

// end reports the terminal state of the stream once.
func (st *SongStream) end(state manager.RequestState, cause error) {
	st.endOnce.Do(func() {
		t := st.tracker
		snap := t.req.Snapshot()
		if state == manager.StateCompleted {
			t.log.StreamCompleted(int(snap.ChunksServed), snap.BytesServed, time.Since(st.start))
		} else {
			t.log.StreamAborted(int(snap.ChunksServed), snap.BytesServed, cause)
			st.span.SetStatus(codes.Error, cause.Error())
		}
		t.svc.metrics.RecordStreamEnd(state != manager.StateCompleted)
		t.finish(state, cause)
	})
}

// produce reads blocks into the queue. It never decides the outcome of the
// request; that is left to the consumer.
func (st *SongStream) produce(r io.ReadCloser, blockSize int) {
	defer close(st.done)
	defer r.Close()
	defer close(st.blocks)

	c, err := chunker.NewChunker(r, blockSize)
	if err != nil {
		st.err = err
		return
	}

	for {
		block, err := c.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			st.err = fmt.Errorf("failed to read content: %w", err)
			return
		}

		select {
		case st.blocks <- block:
		case <-st.ctx.Done():
			st.err = ErrCancelled
			return
		}
	}
}
